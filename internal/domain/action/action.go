// Package action models the risk-bearing operations an agent asks permission
// to perform: file mutations, outbound network calls and connector actions.
package action

import (
	"fmt"
	"strings"

	"github.com/keepup/cowork/internal/domain"
)

// Kind discriminates the Request variants.
type Kind string

const (
	KindFile      Kind = "file"
	KindNetwork   Kind = "network"
	KindConnector Kind = "connector"
)

// Intent is the operation a file request performs.
type Intent string

const (
	IntentRead   Intent = "read"
	IntentWrite  Intent = "write"
	IntentCreate Intent = "create"
	IntentDelete Intent = "delete"
	IntentRename Intent = "rename"
	IntentMove   Intent = "move"
)

func (i Intent) valid() bool {
	switch i {
	case IntentRead, IntentWrite, IntentCreate, IntentDelete, IntentRename, IntentMove:
		return true
	}
	return false
}

// Request is a tagged union over the three action kinds. Only the fields
// belonging to Kind may be set; Reason is shared and purely advisory.
type Request struct {
	Kind Kind `json:"kind" validate:"required,oneof=file network connector"`

	// file
	Path          string `json:"path,omitempty" validate:"required_if=Kind file"`
	Intent        Intent `json:"intent,omitempty" validate:"required_if=Kind file"`
	FileSizeBytes *int64 `json:"fileSizeBytes,omitempty" validate:"omitempty,gte=0"`

	// network
	Host string `json:"host,omitempty" validate:"required_if=Kind network"`

	// connector
	ConnectorScopeAllowed *bool `json:"connectorScopeAllowed,omitempty" validate:"required_if=Kind connector"`

	Reason string `json:"reason,omitempty" validate:"omitempty,max=4096"`
}

// NewFile builds a file request.
func NewFile(intent Intent, path string) Request {
	return Request{Kind: KindFile, Intent: intent, Path: path}
}

// NewNetwork builds a network request.
func NewNetwork(host string) Request {
	return Request{Kind: KindNetwork, Host: host}
}

// NewConnector builds a connector request.
func NewConnector(scopeAllowed bool) Request {
	return Request{Kind: KindConnector, ConnectorScopeAllowed: &scopeAllowed}
}

// Validate rejects malformed requests with an error wrapping
// domain.ErrValidation.
func (r *Request) Validate() error {
	if err := domain.ValidateStruct(r); err != nil {
		return fmt.Errorf("action: %w", err)
	}
	switch r.Kind {
	case KindFile:
		if strings.TrimSpace(r.Path) == "" {
			return domain.Invalidf("action: path must not be blank")
		}
		if !r.Intent.valid() {
			return domain.Invalidf("action: invalid intent %q", r.Intent)
		}
		if r.Host != "" || r.ConnectorScopeAllowed != nil {
			return domain.Invalidf("action: file request carries network or connector fields")
		}
	case KindNetwork:
		if strings.TrimSpace(r.Host) == "" {
			return domain.Invalidf("action: host must not be blank")
		}
		if r.Path != "" || r.Intent != "" || r.FileSizeBytes != nil || r.ConnectorScopeAllowed != nil {
			return domain.Invalidf("action: network request carries file or connector fields")
		}
	case KindConnector:
		if r.Path != "" || r.Intent != "" || r.FileSizeBytes != nil || r.Host != "" {
			return domain.Invalidf("action: connector request carries file or network fields")
		}
	}
	return nil
}

// Description renders the canonical action string shared by the audit
// toolName and the approval action field.
func (r *Request) Description() string {
	switch r.Kind {
	case KindFile:
		return fmt.Sprintf("file.%s:%s", r.Intent, r.Path)
	case KindNetwork:
		return "network.request:" + r.Host
	case KindConnector:
		if r.ConnectorScopeAllowed != nil && *r.ConnectorScopeAllowed {
			return "connector.action:allowed"
		}
		return "connector.action:blocked"
	}
	return "unknown:" + string(r.Kind)
}

// Fields returns the request as a flat map for audit input.
func (r *Request) Fields() map[string]any {
	m := map[string]any{"kind": string(r.Kind)}
	switch r.Kind {
	case KindFile:
		m["path"] = r.Path
		m["intent"] = string(r.Intent)
		if r.FileSizeBytes != nil {
			m["fileSizeBytes"] = *r.FileSizeBytes
		}
	case KindNetwork:
		m["host"] = r.Host
	case KindConnector:
		m["connectorScopeAllowed"] = r.ConnectorScopeAllowed != nil && *r.ConnectorScopeAllowed
	}
	if r.Reason != "" {
		m["reason"] = r.Reason
	}
	return m
}
