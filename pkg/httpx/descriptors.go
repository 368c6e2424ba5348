package httpx

import (
	"net"
	"net/http"
	"strings"
)

// DeviceHeader lets clients name themselves in the session list.
const DeviceHeader = "X-Device-Name"

// maxDescriptorLen bounds client-controlled descriptor strings.
const maxDescriptorLen = 200

// ClientIP is the host part of r.RemoteAddr. Forwarding headers are only
// taken into account by RealIP, which rewrites RemoteAddr for requests
// arriving through a trusted proxy.
func ClientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return truncate(r.RemoteAddr)
	}
	return ip
}

// DeviceName is the X-Device-Name header, falling back to the User-Agent.
func DeviceName(r *http.Request) string {
	if d := strings.TrimSpace(r.Header.Get(DeviceHeader)); d != "" {
		return truncate(d)
	}
	return truncate(r.UserAgent())
}

// BearerToken returns the credential from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	authz := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(authz, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func truncate(s string) string {
	if len(s) > maxDescriptorLen {
		return s[:maxDescriptorLen]
	}
	return s
}
