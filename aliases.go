package remoteadapter

import (
	"github.com/pushkernel/remoteadapter/internal/ariproto"
)

// Mode is a subscription mode: RAW, MERGE, DISTINCT or COMMAND.
type Mode = ariproto.Mode

const (
	ModeRaw      = ariproto.ModeRaw
	ModeMerge    = ariproto.ModeMerge
	ModeDistinct = ariproto.ModeDistinct
	ModeCommand  = ariproto.ModeCommand
)

// MpnPlatformType identifies a mobile push notification platform.
type MpnPlatformType = ariproto.MpnPlatformType

const (
	MpnPlatformApple  = ariproto.MpnPlatformApple
	MpnPlatformGoogle = ariproto.MpnPlatformGoogle
)

// DiffAlgorithm is a field difference algorithm the Kernel may apply.
type DiffAlgorithm = ariproto.DiffAlgorithm

const (
	DiffJSONPatch  = ariproto.DiffJSONPatch
	DiffMatchPatch = ariproto.DiffMatchPatch
)

// TableInfo describes a subscription of a client session.
type TableInfo = ariproto.TableInfo

// MpnDeviceInfo identifies an MPN device.
type MpnDeviceInfo = ariproto.MpnDeviceInfo

// MpnSubscriptionInfo describes an MPN subscription.
type MpnSubscriptionInfo = ariproto.MpnSubscriptionInfo

// ItemData is returned by MetadataProvider.GetItemData for each item.
type ItemData = ariproto.ItemData

// UserItemData is returned by MetadataProvider.GetUserItemData for each item.
type UserItemData = ariproto.UserItemData

// UserData is returned by MetadataProvider.NotifyUser.
type UserData = ariproto.UserData

// Error is an adapter error delivered to the Proxy Adapter with its kind.
type Error = ariproto.Error

// ErrorKind is the family of an Error.
type ErrorKind = ariproto.ErrorKind

const (
	KindGeneric            = ariproto.KindGeneric
	KindDataProvider       = ariproto.KindDataProvider
	KindFailure            = ariproto.KindFailure
	KindSubscription       = ariproto.KindSubscription
	KindMetadataProvider   = ariproto.KindMetadataProvider
	KindAccess             = ariproto.KindAccess
	KindCredits            = ariproto.KindCredits
	KindConflictingSession = ariproto.KindConflictingSession
	KindItems              = ariproto.KindItems
	KindSchema             = ariproto.KindSchema
	KindNotification       = ariproto.KindNotification
	KindVersion            = ariproto.KindVersion
)

// ProtocolError is returned when a protocol line cannot be decoded or a
// value cannot be encoded.
type ProtocolError = ariproto.ProtocolError
