package ariproto

const (
	MethodMetadataInit                    = "MPI"
	MethodGetItemData                     = "GIT"
	MethodNotifyUser                      = "NUS"
	MethodNotifyUserAuth                  = "NUA"
	MethodGetSchema                       = "GSC"
	MethodGetItems                        = "GIS"
	MethodGetUserItemData                 = "GUI"
	MethodNotifyUserMessage               = "NUM"
	MethodNotifyNewSession                = "NNS"
	MethodNotifySessionClose              = "NSC"
	MethodNotifyNewTables                 = "NNT"
	MethodNotifyTablesClose               = "NTC"
	MethodNotifyMpnDeviceAccess           = "MDA"
	MethodNotifyMpnSubscriptionActivation = "MSA"
	MethodNotifyMpnDeviceTokenChange      = "MDC"
)

// ReadGetItemData decodes the items of a GIT request.
func ReadGetItemData(body string) ([]string, error) {
	r := newReader(MethodGetItemData, body)
	var items []string
	for r.more() {
		item, err := r.str()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// WriteGetItemData encodes a GIT reply.
func WriteGetItemData(data []ItemData) (string, error) {
	b := newBuilder(MethodGetItemData)
	for _, d := range data {
		b.integer(d.DistinctSnapshotLength).double(d.MinSourceFrequency)
		if _, err := b.modes(d.AllowedModes); err != nil {
			return "", err
		}
	}
	return b.String(), nil
}

// GetUserItemDataRequest is a decoded GUI request.
type GetUserItemDataRequest struct {
	User  string
	Items []string
}

// ReadGetUserItemData decodes a GUI request.
func ReadGetUserItemData(body string) (GetUserItemDataRequest, error) {
	r := newReader(MethodGetUserItemData, body)
	var req GetUserItemDataRequest
	var err error
	if req.User, err = r.str(); err != nil {
		return req, err
	}
	for r.more() {
		item, err := r.str()
		if err != nil {
			return req, err
		}
		req.Items = append(req.Items, item)
	}
	return req, nil
}

// WriteGetUserItemData encodes a GUI reply.
func WriteGetUserItemData(data []UserItemData) (string, error) {
	b := newBuilder(MethodGetUserItemData)
	for _, d := range data {
		b.integer(d.AllowedBufferSize).double(d.AllowedMaxItemFrequency)
		if _, err := b.modes(d.AllowedModes); err != nil {
			return "", err
		}
	}
	return b.String(), nil
}

// NotifyUserRequest is a decoded NUS or NUA request. ClientPrincipal is only
// carried by NUA.
type NotifyUserRequest struct {
	User            string
	Password        string
	ClientPrincipal string
	HTTPHeaders     map[string]string
}

// ReadNotifyUser decodes a NUS or NUA request.
func ReadNotifyUser(method, body string) (NotifyUserRequest, error) {
	r := newReader(method, body)
	var req NotifyUserRequest
	var err error
	if req.User, err = r.str(); err != nil {
		return req, err
	}
	if req.Password, err = r.str(); err != nil {
		return req, err
	}
	if method == MethodNotifyUserAuth {
		if req.ClientPrincipal, err = r.str(); err != nil {
			return req, err
		}
	}
	req.HTTPHeaders, err = r.stringPairs()
	return req, err
}

// WriteNotifyUser encodes a NUS or NUA reply.
func WriteNotifyUser(method string, data UserData) string {
	return newBuilder(method).double(data.AllowedMaxBandwidth).boolean(data.WantsTablesNotification).String()
}

// GetSchemaRequest is a decoded GSC request.
type GetSchemaRequest struct {
	User    string
	Group   string
	Schema  string
	Session string
}

// ReadGetSchema decodes a GSC request.
func ReadGetSchema(body string) (GetSchemaRequest, error) {
	r := newReader(MethodGetSchema, body)
	var req GetSchemaRequest
	var err error
	if req.User, err = r.str(); err != nil {
		return req, err
	}
	if req.Group, err = r.str(); err != nil {
		return req, err
	}
	if req.Schema, err = r.str(); err != nil {
		return req, err
	}
	req.Session, err = r.str()
	return req, err
}

// GetItemsRequest is a decoded GIS request.
type GetItemsRequest struct {
	User    string
	Group   string
	Session string
}

// ReadGetItems decodes a GIS request.
func ReadGetItems(body string) (GetItemsRequest, error) {
	r := newReader(MethodGetItems, body)
	var req GetItemsRequest
	var err error
	if req.User, err = r.str(); err != nil {
		return req, err
	}
	if req.Group, err = r.str(); err != nil {
		return req, err
	}
	req.Session, err = r.str()
	return req, err
}

// WriteStringList encodes a GIS or GSC reply.
func WriteStringList(method string, values []string) string {
	b := newBuilder(method)
	for _, v := range values {
		b.str(v)
	}
	return b.String()
}

// NotifyUserMessageRequest is a decoded NUM request.
type NotifyUserMessageRequest struct {
	User    string
	Session string
	Message string
}

// ReadNotifyUserMessage decodes a NUM request.
func ReadNotifyUserMessage(body string) (NotifyUserMessageRequest, error) {
	r := newReader(MethodNotifyUserMessage, body)
	var req NotifyUserMessageRequest
	var err error
	if req.User, err = r.str(); err != nil {
		return req, err
	}
	if req.Session, err = r.str(); err != nil {
		return req, err
	}
	req.Message, err = r.str()
	return req, err
}

// NotifyNewSessionRequest is a decoded NNS request.
type NotifyNewSessionRequest struct {
	User          string
	Session       string
	ClientContext map[string]string
}

// ReadNotifyNewSession decodes a NNS request.
func ReadNotifyNewSession(body string) (NotifyNewSessionRequest, error) {
	r := newReader(MethodNotifyNewSession, body)
	var req NotifyNewSessionRequest
	var err error
	if req.User, err = r.str(); err != nil {
		return req, err
	}
	if req.Session, err = r.str(); err != nil {
		return req, err
	}
	req.ClientContext, err = r.stringPairs()
	return req, err
}

// ReadNotifySessionClose decodes the session id of a NSC request.
func ReadNotifySessionClose(body string) (string, error) {
	return newReader(MethodNotifySessionClose, body).str()
}

// TablesRequest is a decoded NNT or NTC request. User is only carried by
// NNT.
type TablesRequest struct {
	User    string
	Session string
	Tables  []TableInfo
}

// ReadNotifyNewTables decodes a NNT request.
func ReadNotifyNewTables(body string) (TablesRequest, error) {
	return readTables(MethodNotifyNewTables, body, true)
}

// ReadNotifyTablesClose decodes a NTC request.
func ReadNotifyTablesClose(body string) (TablesRequest, error) {
	return readTables(MethodNotifyTablesClose, body, false)
}

func readTables(method, body string, withUser bool) (TablesRequest, error) {
	r := newReader(method, body)
	var req TablesRequest
	var err error
	if withUser {
		if req.User, err = r.str(); err != nil {
			return req, err
		}
	}
	if req.Session, err = r.str(); err != nil {
		return req, err
	}
	for r.more() {
		t, err := readTable(r, true)
		if err != nil {
			return req, err
		}
		req.Tables = append(req.Tables, t)
	}
	return req, nil
}

func readTable(r *reader, withSelector bool) (TableInfo, error) {
	var t TableInfo
	var err error
	if t.WinIndex, err = r.integer(); err != nil {
		return t, err
	}
	modes, err := r.modes()
	if err != nil {
		return t, err
	}
	if len(modes) > 0 {
		t.Mode = modes[0]
	}
	if t.Group, err = r.str(); err != nil {
		return t, err
	}
	if t.Schema, err = r.str(); err != nil {
		return t, err
	}
	if t.Min, err = r.integer(); err != nil {
		return t, err
	}
	if t.Max, err = r.integer(); err != nil {
		return t, err
	}
	if withSelector {
		if t.Selector, err = r.str(); err != nil {
			return t, err
		}
	}
	return t, nil
}

// MpnDeviceAccessRequest is a decoded MDA request.
type MpnDeviceAccessRequest struct {
	User    string
	Session string
	Device  MpnDeviceInfo
}

// ReadNotifyMpnDeviceAccess decodes a MDA request.
func ReadNotifyMpnDeviceAccess(body string) (MpnDeviceAccessRequest, error) {
	r := newReader(MethodNotifyMpnDeviceAccess, body)
	var req MpnDeviceAccessRequest
	var err error
	if req.User, err = r.str(); err != nil {
		return req, err
	}
	if req.Session, err = r.str(); err != nil {
		return req, err
	}
	req.Device, err = readDevice(r)
	return req, err
}

func readDevice(r *reader) (MpnDeviceInfo, error) {
	var d MpnDeviceInfo
	var err error
	if d.Platform, err = r.platform(); err != nil {
		return d, err
	}
	if d.ApplicationID, err = r.str(); err != nil {
		return d, err
	}
	d.DeviceToken, err = r.str()
	return d, err
}

// MpnSubscriptionActivationRequest is a decoded MSA request.
type MpnSubscriptionActivationRequest struct {
	User         string
	Session      string
	Table        TableInfo
	Subscription MpnSubscriptionInfo
}

// ReadNotifyMpnSubscriptionActivation decodes a MSA request.
func ReadNotifyMpnSubscriptionActivation(body string) (MpnSubscriptionActivationRequest, error) {
	r := newReader(MethodNotifyMpnSubscriptionActivation, body)
	var req MpnSubscriptionActivationRequest
	var err error
	if req.User, err = r.str(); err != nil {
		return req, err
	}
	if req.Session, err = r.str(); err != nil {
		return req, err
	}
	if req.Table, err = readTable(r, false); err != nil {
		return req, err
	}
	if req.Subscription.Device, err = readDevice(r); err != nil {
		return req, err
	}
	if req.Subscription.Trigger, err = r.str(); err != nil {
		return req, err
	}
	req.Subscription.NotificationFormat, err = r.str()
	return req, err
}

// MpnDeviceTokenChangeRequest is a decoded MDC request.
type MpnDeviceTokenChangeRequest struct {
	User           string
	Session        string
	Device         MpnDeviceInfo
	NewDeviceToken string
}

// ReadNotifyMpnDeviceTokenChange decodes a MDC request.
func ReadNotifyMpnDeviceTokenChange(body string) (MpnDeviceTokenChangeRequest, error) {
	r := newReader(MethodNotifyMpnDeviceTokenChange, body)
	var req MpnDeviceTokenChangeRequest
	var err error
	if req.User, err = r.str(); err != nil {
		return req, err
	}
	if req.Session, err = r.str(); err != nil {
		return req, err
	}
	if req.Device, err = readDevice(r); err != nil {
		return req, err
	}
	req.NewDeviceToken, err = r.str()
	return req, err
}

// WriteVoid encodes a successful reply carrying no value.
func WriteVoid(method string) string {
	return newBuilder(method).void().String()
}

// errorKinds lists, per method, the exception families which keep their
// subtype on the wire.
var errorKinds = map[string][]ErrorKind{
	MethodGetItemData:                     nil,
	MethodGetUserItemData:                 nil,
	MethodNotifyUser:                      {KindAccess, KindCredits},
	MethodNotifyUserAuth:                  {KindAccess, KindCredits},
	MethodGetSchema:                       {KindItems, KindSchema},
	MethodGetItems:                        {KindItems},
	MethodNotifyUserMessage:               {KindNotification, KindCredits},
	MethodNotifyNewSession:                {KindNotification, KindConflictingSession, KindCredits},
	MethodNotifySessionClose:              {KindNotification},
	MethodNotifyNewTables:                 {KindNotification, KindCredits},
	MethodNotifyTablesClose:               {KindNotification},
	MethodNotifyMpnDeviceAccess:           {KindNotification, KindCredits},
	MethodNotifyMpnSubscriptionActivation: {KindNotification, KindCredits},
	MethodNotifyMpnDeviceTokenChange:      {KindNotification, KindCredits},
}

// WriteMethodError encodes a failed metadata reply with the subtypes
// admitted by the method.
func WriteMethodError(method string, err error) string {
	return newBuilder(method).exception(err, errorKinds[method]...).String()
}
