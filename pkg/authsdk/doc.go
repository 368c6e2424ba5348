/*
Package authsdk provides a client SDK and the shared wire types for the
sessionguard authentication service.

# Overview

The service issues a pair of bearer credentials on login: a short-lived access
credential sent on every request and a long-lived renewal credential that is
exchanged, exactly once, for a fresh pair. Presenting a renewal credential a
second time is treated as theft and kills the whole chain.

# SDKClient vs Session

  - SDKClient: unauthenticated operations (login, renew, health)
  - Session: authenticated operations with automatic renewal

	client := authsdk.NewSDKClient("https://auth.example.com")

	session, err := client.Login(ctx, "alice", "correct horse battery staple")
	if err != nil {
		var apiErr *authsdk.APIError
		if errors.As(err, &apiErr) && apiErr.Code == authsdk.ErrorCodeRateLimited {
			time.Sleep(apiErr.RetryAfter)
		}
		return err
	}

	sessions, err := session.ListSessions(ctx)
	revoked, err := session.RevokeOtherSessions(ctx)
	err = session.Logout(ctx)

# Automatic Renewal

Session methods call validToken internally, which renews the pair 30 seconds
before the access credential expires. The renewal credential is replaced on
every renewal; a Session must not be cloned across processes, since replaying
its old renewal credential would be reported as reuse.

# Error Handling

Every non-2xx response is returned as *APIError carrying the HTTP status, the
machine-readable code from the catalog in errors.go and, for 429, the
Retry-After delay.

# Thread Safety

Sessions are safe for concurrent use. Renewal is serialized under a write lock
so concurrent callers never present the same renewal credential twice.
*/
package authsdk
