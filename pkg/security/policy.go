package security

import "github.com/cuemby/someip-core/pkg/someip"

// Client is the security context of the caller an authorization decision
// is made for.
type Client struct {
	ClientID someip.ClientID
	UID      uint32
	GID      uint32
}

// Verdict is the result of an authorization check.
type Verdict struct {
	Allow  bool
	Reason string
}

// Allowed is a convenience constructor for a permitting Verdict.
func Allowed() Verdict { return Verdict{Allow: true} }

// Denied is a convenience constructor for a denying Verdict.
func Denied(reason string) Verdict { return Verdict{Allow: false, Reason: reason} }

// Policy is the SecurityPolicy collaborator from spec.md 6.1.
type Policy interface {
	AuthorizeOffer(sec Client, s someip.ServiceID, i someip.InstanceID) Verdict
	AuthorizeRequest(sec Client, s someip.ServiceID, i someip.InstanceID) Verdict
	AuthorizeSubscribe(sec Client, s someip.ServiceID, i someip.InstanceID, g someip.EventgroupID) Verdict
	AuthorizeMember(sec Client, s someip.ServiceID, i someip.InstanceID, m someip.MethodID) Verdict
}
