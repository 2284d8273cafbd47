// Package literal provides a Metadata Provider which takes item groups and
// field schemas literally: a group is a space separated list of item names
// and a schema a space separated list of field names.
//
// It is configured through the init parameters:
//
//	allowed_users             comma separated list of users, empty means any user
//	max_bandwidth             bandwidth limit in kbit/s for every user
//	max_frequency             update frequency limit for every item
//	buffer_size               buffer size for every item
//	distinct_snapshot_length  snapshot length of DISTINCT items, 10 by default
package literal

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pushkernel/remoteadapter"
)

// Init parameter names.
const (
	ParamAllowedUsers           = "allowed_users"
	ParamMaxBandwidth           = "max_bandwidth"
	ParamMaxFrequency           = "max_frequency"
	ParamBufferSize             = "buffer_size"
	ParamDistinctSnapshotLength = "distinct_snapshot_length"
)

// DefaultDistinctSnapshotLength used when distinct_snapshot_length is not set.
const DefaultDistinctSnapshotLength = 10

// Provider is a literal based MetadataProvider. The zero value is not
// configured, call Init before use.
type Provider struct {
	remoteadapter.MetadataProviderAdapter

	allowedUsers           []string
	maxBandwidth           float64
	maxFrequency           float64
	bufferSize             int
	distinctSnapshotLength int
}

var _ remoteadapter.MetadataProvider = (*Provider)(nil)

// New returns an unconfigured Provider.
func New() *Provider {
	return &Provider{}
}

// Init reads the configuration from the init parameters.
func (p *Provider) Init(params map[string]string, _ string) error {
	if users, ok := params[ParamAllowedUsers]; ok {
		p.allowedUsers = split(users, ",")
	}
	var err error
	if v, ok := params[ParamMaxBandwidth]; ok {
		if p.maxBandwidth, err = strconv.ParseFloat(v, 64); err != nil {
			return configError(ParamMaxBandwidth, err)
		}
	}
	if v, ok := params[ParamMaxFrequency]; ok {
		if p.maxFrequency, err = strconv.ParseFloat(v, 64); err != nil {
			return configError(ParamMaxFrequency, err)
		}
	}
	if v, ok := params[ParamBufferSize]; ok {
		if p.bufferSize, err = strconv.Atoi(v); err != nil {
			return configError(ParamBufferSize, err)
		}
	}
	p.distinctSnapshotLength = DefaultDistinctSnapshotLength
	if v, ok := params[ParamDistinctSnapshotLength]; ok {
		if p.distinctSnapshotLength, err = strconv.Atoi(v); err != nil {
			return configError(ParamDistinctSnapshotLength, err)
		}
	}
	return nil
}

func configError(param string, err error) error {
	return remoteadapter.NewMetadataProviderError(fmt.Sprintf("Configuration error: %s: %v", param, err))
}

// GetItems splits the group into item names.
func (p *Provider) GetItems(_, _, group string) ([]string, error) {
	return split(group, " "), nil
}

// GetSchema splits the schema into field names.
func (p *Provider) GetSchema(_, _, _, schema string) ([]string, error) {
	return split(schema, " "), nil
}

// NotifyUser refuses users not listed in allowed_users, when the list is set.
func (p *Provider) NotifyUser(user, _ string, _ map[string]string) error {
	if !p.checkUser(user) {
		return remoteadapter.NewAccessError("Unauthorized user")
	}
	return nil
}

func (p *Provider) GetAllowedMaxBandwidth(string) float64 {
	return p.maxBandwidth
}

func (p *Provider) GetAllowedMaxItemFrequency(string, string) float64 {
	return p.maxFrequency
}

func (p *Provider) GetAllowedBufferSize(string, string) int {
	return p.bufferSize
}

func (p *Provider) GetDistinctSnapshotLength(string) int {
	return p.distinctSnapshotLength
}

func (p *Provider) checkUser(user string) bool {
	if len(p.allowedUsers) == 0 {
		return true
	}
	if user == "" {
		return false
	}
	for _, u := range p.allowedUsers {
		if u == user {
			return true
		}
	}
	return false
}

// split breaks s at sep dropping empty tokens. A string without sep is
// returned as the only element, even when empty.
func split(s, sep string) []string {
	if !strings.Contains(s, sep) {
		return []string{s}
	}
	parts := strings.Split(s, sep)
	result := parts[:0]
	for _, part := range parts {
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}
