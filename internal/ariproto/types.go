package ariproto

// Mode is a subscription mode.
type Mode string

const (
	ModeRaw      Mode = "RAW"
	ModeMerge    Mode = "MERGE"
	ModeDistinct Mode = "DISTINCT"
	ModeCommand  Mode = "COMMAND"
)

// AllModes lists modes in wire order.
var AllModes = []Mode{ModeRaw, ModeMerge, ModeDistinct, ModeCommand}

// MpnPlatformType identifies a push notification platform.
type MpnPlatformType string

const (
	MpnPlatformApple  MpnPlatformType = "Apple"
	MpnPlatformGoogle MpnPlatformType = "Google"
)

// DiffAlgorithm is an algorithm the Kernel may use to compute field
// differences before sending values to clients.
type DiffAlgorithm string

const (
	DiffJSONPatch  DiffAlgorithm = "JSONPATCH"
	DiffMatchPatch DiffAlgorithm = "DIFF_MATCH_PATCH"
)

// TableInfo describes a Table (subscription) of a client session.
type TableInfo struct {
	WinIndex int
	Mode     Mode
	Group    string
	Schema   string
	Min      int
	Max      int
	Selector string
}

// MpnDeviceInfo identifies an MPN device.
type MpnDeviceInfo struct {
	Platform      MpnPlatformType
	ApplicationID string
	DeviceToken   string
}

// MpnSubscriptionInfo describes an MPN subscription being activated.
type MpnSubscriptionInfo struct {
	Device             MpnDeviceInfo
	NotificationFormat string
	Trigger            string
}

// ItemData is the per item answer to a GIT request.
type ItemData struct {
	DistinctSnapshotLength int
	MinSourceFrequency     float64
	AllowedModes           []Mode
}

// UserItemData is the per item answer to a GUI request.
type UserItemData struct {
	AllowedBufferSize       int
	AllowedMaxItemFrequency float64
	AllowedModes            []Mode
}

// UserData is the answer to NUS and NUA requests.
type UserData struct {
	AllowedMaxBandwidth     float64
	WantsTablesNotification bool
}
