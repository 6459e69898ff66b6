package realtime

// TrustPolicy is a server's certificate-trust mode. It gates which transport
// can be used: only strict verification is compatible with the push
// transport's network stack on a secure origin.
type TrustPolicy string

const (
	TrustStrict      TrustPolicy = "strict"
	TrustFingerprint TrustPolicy = "trust_fingerprint"
	TrustInsecure    TrustPolicy = "insecure"
)

// Transport identifies the event-delivery mechanism for one server.
type Transport int

const (
	// TransportPush is the persistent bidirectional connection used for
	// low-latency server-pushed events.
	TransportPush Transport = iota
	// TransportPolling is the periodic HTTP catch-up loop used when the
	// push transport cannot be trusted or established.
	TransportPolling
)

func (t Transport) String() string {
	switch t {
	case TransportPush:
		return "push"
	case TransportPolling:
		return "polling"
	default:
		return "unknown"
	}
}

// ChooseTransport decides between push and polling for a server.
//
// On a secure origin the push transport cannot honor custom certificate
// trust (fingerprint pinning or disabled verification) inside the client's
// network stack, so any policy other than strict forces polling. Every
// other combination uses push.
//
// The trust policy is mutable per server, so this must be re-evaluated
// every time readiness is (re)established.
func ChooseTransport(policy TrustPolicy, originScheme string) Transport {
	if originScheme == "https" && policy != TrustStrict {
		return TransportPolling
	}

	return TransportPush
}
