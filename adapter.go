package remoteadapter

// DataProvider is a Data Adapter run by a DataServer. All methods may be
// called concurrently for different items. Subscribe and Unsubscribe for the
// same item are always called in strict alternation.
type DataProvider interface {
	// Init is called once, before any other method, with the parameters
	// received from the Proxy Adapter merged with the configured ones.
	Init(params map[string]string, configPath string) error
	// SetListener is called right after a successful Init. The listener is
	// the way to push events for subscribed items.
	SetListener(listener ItemEventListener)
	// Subscribe starts the delivery of events for the item. Events may be
	// pushed for the item as soon as Subscribe is called.
	Subscribe(item string) error
	// Unsubscribe stops the delivery of events for the item. Events pushed
	// after Unsubscribe returned are dropped.
	Unsubscribe(item string) error
	// IsSnapshotAvailable tells whether the adapter will send a snapshot for
	// the item. When false the end of snapshot is signalled on its behalf.
	IsSnapshotAvailable(item string) (bool, error)
}

// ItemEventListener receives events from a DataProvider.
type ItemEventListener interface {
	// Update pushes an event for the item. Values may be strings, byte
	// slices, nil or any fmt.Stringer.
	Update(item string, fields map[string]any, isSnapshot bool)
	// EndOfSnapshot signals that the snapshot of the item is complete.
	EndOfSnapshot(item string)
	// ClearSnapshot asks to clear the item state kept by the Kernel.
	ClearSnapshot(item string)
	// DeclareFieldDiffOrder declares the diff algorithms the Kernel may try
	// for the fields of the item, in order of preference.
	DeclareFieldDiffOrder(item string, algorithms map[string][]DiffAlgorithm)
	// Failure notifies an internal failure of the adapter.
	Failure(err error)
}

// MetadataProvider is a Metadata Adapter run by a MetadataServer. Methods are
// called concurrently on a worker pool. An empty user means no user.
//
// Embed MetadataProviderAdapter to inherit default implementations for all
// methods but GetItems and GetSchema.
type MetadataProvider interface {
	Init(params map[string]string, configPath string) error
	SetListener(listener MetadataControlListener)
	NotifyUser(user, password string, httpHeaders map[string]string) error
	GetItems(user, sessionID, group string) ([]string, error)
	GetSchema(user, sessionID, group, schema string) ([]string, error)
	GetAllowedMaxBandwidth(user string) float64
	GetAllowedMaxItemFrequency(user, item string) float64
	GetAllowedBufferSize(user, item string) int
	IsModeAllowed(user, item string, mode Mode) bool
	ModeMayBeAllowed(item string, mode Mode) bool
	GetMinSourceFrequency(item string) float64
	GetDistinctSnapshotLength(item string) int
	NotifyUserMessage(user, sessionID, message string) error
	NotifyNewSession(user, sessionID string, clientContext map[string]string) error
	NotifySessionClose(sessionID string) error
	WantsTablesNotification(user string) bool
	NotifyNewTables(user, sessionID string, tables []TableInfo) error
	NotifyTablesClose(sessionID string, tables []TableInfo) error
	NotifyMpnDeviceAccess(user, sessionID string, device MpnDeviceInfo) error
	NotifyMpnSubscriptionActivation(user, sessionID string, table TableInfo, subscription MpnSubscriptionInfo) error
	NotifyMpnDeviceTokenChange(user, sessionID string, device MpnDeviceInfo, newDeviceToken string) error
}

// PrincipalNotifier may be implemented by a MetadataProvider to receive the
// client principal of authenticated connections. Without it NotifyUser is
// called instead.
type PrincipalNotifier interface {
	NotifyUserWithPrincipal(user, password string, httpHeaders map[string]string, clientPrincipal string) error
}

// MetadataControlListener allows a MetadataProvider to act on the Kernel.
type MetadataControlListener interface {
	// ForceSessionTermination closes a session. The returned handle
	// completes when the Kernel answers.
	ForceSessionTermination(sessionID string) *PendingResult
	// ForceSessionTerminationWithCause closes a session passing a cause to
	// the client.
	ForceSessionTerminationWithCause(sessionID string, causeCode int, causeMessage string) *PendingResult
	// ForceUnsubscription removes a table from a session. The handle value
	// tells whether the table was found.
	ForceUnsubscription(sessionID string, table TableInfo) *PendingResult
	// Failure notifies an internal failure of the adapter.
	Failure(err error)
}

// MetadataProviderAdapter provides defaults for MetadataProvider: no limits,
// every mode allowed, user messages refused and all notifications accepted.
type MetadataProviderAdapter struct{}

func (MetadataProviderAdapter) Init(map[string]string, string) error { return nil }

func (MetadataProviderAdapter) SetListener(MetadataControlListener) {}

func (MetadataProviderAdapter) NotifyUser(string, string, map[string]string) error { return nil }

func (MetadataProviderAdapter) GetAllowedMaxBandwidth(string) float64 { return 0 }

func (MetadataProviderAdapter) GetAllowedMaxItemFrequency(string, string) float64 { return 0 }

func (MetadataProviderAdapter) GetAllowedBufferSize(string, string) int { return 0 }

func (MetadataProviderAdapter) IsModeAllowed(string, string, Mode) bool { return true }

func (MetadataProviderAdapter) ModeMayBeAllowed(string, Mode) bool { return true }

func (MetadataProviderAdapter) GetMinSourceFrequency(string) float64 { return 0 }

func (MetadataProviderAdapter) GetDistinctSnapshotLength(string) int { return 0 }

func (MetadataProviderAdapter) NotifyUserMessage(string, string, string) error {
	return NewCreditsError("Unsupported function", 0, "")
}

func (MetadataProviderAdapter) NotifyNewSession(string, string, map[string]string) error { return nil }

func (MetadataProviderAdapter) NotifySessionClose(string) error { return nil }

func (MetadataProviderAdapter) WantsTablesNotification(string) bool { return false }

func (MetadataProviderAdapter) NotifyNewTables(string, string, []TableInfo) error { return nil }

func (MetadataProviderAdapter) NotifyTablesClose(string, []TableInfo) error { return nil }

func (MetadataProviderAdapter) NotifyMpnDeviceAccess(string, string, MpnDeviceInfo) error {
	return nil
}

func (MetadataProviderAdapter) NotifyMpnSubscriptionActivation(string, string, TableInfo, MpnSubscriptionInfo) error {
	return nil
}

func (MetadataProviderAdapter) NotifyMpnDeviceTokenChange(string, string, MpnDeviceInfo, string) error {
	return nil
}
