package security

import "github.com/cuemby/someip-core/pkg/someip"

// AllowAllPolicy is the default Policy when security.enabled is false: it
// permits every operation.
type AllowAllPolicy struct{}

func (AllowAllPolicy) AuthorizeOffer(Client, someip.ServiceID, someip.InstanceID) Verdict {
	return Allowed()
}

func (AllowAllPolicy) AuthorizeRequest(Client, someip.ServiceID, someip.InstanceID) Verdict {
	return Allowed()
}

func (AllowAllPolicy) AuthorizeSubscribe(Client, someip.ServiceID, someip.InstanceID, someip.EventgroupID) Verdict {
	return Allowed()
}

func (AllowAllPolicy) AuthorizeMember(Client, someip.ServiceID, someip.InstanceID, someip.MethodID) Verdict {
	return Allowed()
}
