package security

import (
	"github.com/cuemby/someip-core/pkg/log"
	"github.com/cuemby/someip-core/pkg/someip"
	"github.com/rs/zerolog"
)

// AuditPolicy wraps an inner Policy and implements spec.md 7's audit-mode
// rule: a denial from the inner policy logs a warning but the operation
// proceeds, with one carve-out — AuthorizeMember never softens its
// verdict, because SubscriptionEngine relies on the true verdict from that
// call to decide whether an ANY_EVENT subscribe's any-member-denied rule
// blocks the whole subscription.
type AuditPolicy struct {
	inner  Policy
	logger zerolog.Logger
}

// NewAuditPolicy wraps inner in audit-mode softening. A nil inner defaults
// to AllowAllPolicy, which makes audit mode a pure logging shim until a
// real rule source is plugged in.
func NewAuditPolicy(inner Policy) *AuditPolicy {
	if inner == nil {
		inner = AllowAllPolicy{}
	}
	return &AuditPolicy{inner: inner, logger: log.WithComponent("security")}
}

func (p *AuditPolicy) AuthorizeOffer(sec Client, s someip.ServiceID, i someip.InstanceID) Verdict {
	v := p.inner.AuthorizeOffer(sec, s, i)
	return p.soften(v, "offer", sec, s, i)
}

func (p *AuditPolicy) AuthorizeRequest(sec Client, s someip.ServiceID, i someip.InstanceID) Verdict {
	v := p.inner.AuthorizeRequest(sec, s, i)
	return p.soften(v, "request", sec, s, i)
}

func (p *AuditPolicy) AuthorizeSubscribe(sec Client, s someip.ServiceID, i someip.InstanceID, g someip.EventgroupID) Verdict {
	v := p.inner.AuthorizeSubscribe(sec, s, i, g)
	return p.soften(v, "subscribe", sec, s, i)
}

// AuthorizeMember deliberately returns the inner policy's true verdict,
// unsoftened; see the package and type doc comments for why.
func (p *AuditPolicy) AuthorizeMember(sec Client, s someip.ServiceID, i someip.InstanceID, m someip.MethodID) Verdict {
	v := p.inner.AuthorizeMember(sec, s, i, m)
	if !v.Allow {
		p.logger.Warn().
			Uint16("client_id", uint16(sec.ClientID)).
			Uint16("service_id", uint16(s)).
			Uint16("instance_id", uint16(i)).
			Uint16("method_id", uint16(m)).
			Str("reason", v.Reason).
			Msg("member authorization denied")
	}
	return v
}

func (p *AuditPolicy) soften(v Verdict, op string, sec Client, s someip.ServiceID, i someip.InstanceID) Verdict {
	if v.Allow {
		return v
	}
	p.logger.Warn().
		Str("operation", op).
		Uint16("client_id", uint16(sec.ClientID)).
		Uint16("service_id", uint16(s)).
		Uint16("instance_id", uint16(i)).
		Str("reason", v.Reason).
		Msg("authorization denied, proceeding under audit mode")
	return Allowed()
}
