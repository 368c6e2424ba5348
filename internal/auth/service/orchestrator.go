package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/aussiebroadwan/sessionguard/internal/auth/domain"
	"github.com/aussiebroadwan/sessionguard/internal/auth/metrics"
	"github.com/aussiebroadwan/sessionguard/internal/auth/store"
	"github.com/aussiebroadwan/sessionguard/pkg/cryptox"
	"github.com/aussiebroadwan/sessionguard/pkg/idx"
	"github.com/aussiebroadwan/sessionguard/pkg/jwtx"
	"github.com/aussiebroadwan/sessionguard/pkg/slogx"
	"github.com/aussiebroadwan/sessionguard/pkg/throttle"
)

// DefaultStoreTimeout bounds every store call made on behalf of a request.
const DefaultStoreTimeout = 2 * time.Second

var guardErrSampler = slogx.NewSampler(time.Minute)

// errChainClosed aborts a rotation whose chain was revoked after Renew's
// first revocation lookup.
var errChainClosed = errors.New("chain closed")

// DeviceContext describes where a request came from.
type DeviceContext struct {
	Device  string
	Network string
}

type LoginRequest struct {
	Identifier string
	Secret     string
	DeviceContext
}

// SessionSummary is a session as shown to its owner.
type SessionSummary struct {
	domain.Session
	Current bool
}

// Options wires a SessionService. Codec, Store, Clock and Authenticator are
// required; a nil Guard disables throttling and a nil Audit drops events.
type Options struct {
	Codec         *jwtx.Codec
	Store         store.Store
	Clock         idx.Source
	Authenticator SubjectAuthenticator
	Guard         throttle.Guard
	Policies      throttle.Policies
	Audit         *AuditLog
	Metrics       *metrics.Metrics

	StoreTimeout time.Duration

	// ReuseRevokesAllSessions widens the reuse response from the affected
	// chain to every session of the subject.
	ReuseRevokesAllSessions bool
}

// SessionService implements login, renewal, logout and authorization on top
// of the codec, the three ledgers and the audit log.
type SessionService struct {
	Codec                   *jwtx.Codec
	Store                   store.Store
	Clock                   idx.Source
	Authenticator           SubjectAuthenticator
	Guard                   throttle.Guard
	Policies                throttle.Policies
	Audit                   *AuditLog
	Metrics                 *metrics.Metrics
	StoreTimeout            time.Duration
	ReuseRevokesAllSessions bool

	revocations *RevocationLedger
	rotations   *RotationLedger
	sessions    *SessionRegistry
}

func NewSessionService(opts Options) *SessionService {
	if opts.Clock == nil {
		opts.Clock = idx.System{}
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = DefaultStoreTimeout
	}
	if opts.Policies == (throttle.Policies{}) {
		opts.Policies = throttle.DefaultPolicies()
	}

	return &SessionService{
		Codec:                   opts.Codec,
		Store:                   opts.Store,
		Clock:                   opts.Clock,
		Authenticator:           opts.Authenticator,
		Guard:                   opts.Guard,
		Policies:                opts.Policies,
		Audit:                   opts.Audit,
		Metrics:                 opts.Metrics,
		StoreTimeout:            opts.StoreTimeout,
		ReuseRevokesAllSessions: opts.ReuseRevokesAllSessions,
		revocations:             NewRevocationLedger(opts.Store, opts.Clock),
		rotations:               NewRotationLedger(opts.Store, opts.Clock),
		sessions:                NewSessionRegistry(opts.Store, opts.Clock),
	}
}

func (s *SessionService) Revocations() *RevocationLedger { return s.revocations }
func (s *SessionService) Rotations() *RotationLedger     { return s.rotations }
func (s *SessionService) Sessions() *SessionRegistry     { return s.sessions }

func (s *SessionService) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.StoreTimeout)
}

// detachedCtx is used for writes that must not be abandoned halfway because
// the caller went away.
func (s *SessionService) detachedCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.StoreTimeout)
}

// Login authenticates the caller and starts a new chain and session.
func (s *SessionService) Login(ctx context.Context, req LoginRequest) (domain.TokenPair, error) {
	l := slogx.FromContext(ctx)
	identifier := strings.TrimSpace(req.Identifier)

	key := throttle.Key(s.Policies.Login.Name, req.Network, cryptox.Fingerprint(identifier))
	if err := s.throttle(ctx, s.Policies.Login, key); err != nil {
		s.record(ctx, domain.AuditEvent{
			Type: domain.AuditRateLimited, Identifier: identifier,
			Detail: auditDetail(map[string]any{"endpoint": "login"}),
		}, req.DeviceContext)
		return domain.TokenPair{}, err
	}

	fail := func() (domain.TokenPair, error) {
		s.Metrics.Event("login", false)
		s.record(ctx, domain.AuditEvent{Type: domain.AuditLoginFailed, Identifier: identifier}, req.DeviceContext)
		return domain.TokenPair{}, ErrInvalidCredentials
	}

	if identifier == "" || req.Secret == "" {
		return fail()
	}

	actx, cancel := s.storeCtx(ctx)
	subject, err := s.Authenticator.Authenticate(actx, identifier, req.Secret)
	cancel()
	if errors.Is(err, ErrInvalidCredentials) {
		l.Info("login failed", slog.String("network", req.Network))
		return fail()
	}
	if err != nil {
		return domain.TokenPair{}, s.unavailable(ctx, "login.authenticate", err)
	}

	now := s.Clock.Now()
	sessionID := s.Clock.New().String()
	chainID := s.Clock.New().String()

	pair, access, renewal, err := s.issuePair(jwtx.Claims{
		SID:           sessionID,
		Username:      subject.Username,
		PreferredName: subject.DisplayName,
	}, subject.ID, chainID, "", now)
	if err != nil {
		return domain.TokenPair{}, err
	}

	wctx, cancel := s.detachedCtx(ctx)
	defer cancel()
	err = s.Store.WithTx(wctx, func(tx store.Tx) error {
		if err := s.rotations.in(tx).Record(wctx, domain.Rotation{
			CID:       renewal.CID(),
			Subject:   subject.ID,
			ChainID:   chainID,
			AccessCID: access.CID(),
			ExpiresAt: renewal.ExpiresAtTime(),
			CreatedAt: now,
		}); err != nil {
			return err
		}
		return s.sessions.in(tx).Upsert(wctx, domain.Session{
			ID:         sessionID,
			Subject:    subject.ID,
			ChainID:    chainID,
			CurrentCID: renewal.CID(),
			Device:     req.Device,
			Network:    req.Network,
			CreatedAt:  now,
			LastSeenAt: now,
			ExpiresAt:  renewal.ExpiresAtTime(),
		})
	})
	if err != nil {
		return domain.TokenPair{}, s.unavailable(ctx, "login.persist", err)
	}

	s.Metrics.Event("login", true)
	s.record(ctx, domain.AuditEvent{
		Type: domain.AuditLoginSuccess, Subject: subject.ID, Identifier: identifier, Success: true,
		Detail: auditDetail(map[string]any{"session_id": sessionID}),
	}, req.DeviceContext)

	l.Info("login succeeded", slog.String("sub", subject.ID), slog.String("sid", sessionID))
	return pair, nil
}

// Renew exchanges a renewal credential for a new pair. A credential that was
// already exchanged triggers the reuse response and ErrSecurityViolation.
func (s *SessionService) Renew(ctx context.Context, token string, dc DeviceContext) (domain.TokenPair, error) {
	l := slogx.FromContext(ctx)

	key := throttle.Key(s.Policies.Renew.Name, dc.Network)
	if err := s.throttle(ctx, s.Policies.Renew, key); err != nil {
		s.record(ctx, domain.AuditEvent{
			Type:   domain.AuditRateLimited,
			Detail: auditDetail(map[string]any{"endpoint": "renew"}),
		}, dc)
		return domain.TokenPair{}, err
	}

	fail := func(subject string, err error, reason string) (domain.TokenPair, error) {
		s.Metrics.Event("renew", false)
		s.record(ctx, domain.AuditEvent{
			Type: domain.AuditRenewalFailed, Subject: subject,
			Detail: auditDetail(map[string]any{"reason": reason}),
		}, dc)
		return domain.TokenPair{}, err
	}

	// 1. verify
	now := s.Clock.Now()
	claims, err := s.Codec.Verify(token, jwtx.KindRenewal, now)
	switch {
	case errors.Is(err, jwtx.ErrExpired):
		return fail("", ErrCredentialExpired, "expired")
	case err != nil:
		return fail("", ErrCredentialInvalid, "invalid")
	}
	cid := claims.CID()

	// 2. revocation, except "rotated" which is decided by the rotation ledger
	rctx, cancel := s.storeCtx(ctx)
	rv, revoked, err := s.revocations.Lookup(rctx, cid)
	cancel()
	if err != nil {
		return domain.TokenPair{}, s.unavailable(ctx, "renew.revocation", err)
	}
	if revoked && rv.Reason != domain.ReasonRotated {
		return fail(claims.Subject, ErrCredentialRevoked, rv.Reason)
	}

	// 3. reuse
	rctx, cancel = s.storeCtx(ctx)
	entry, err := s.rotations.ReuseDetected(rctx, cid)
	cancel()
	if errors.Is(err, store.ErrNotFound) {
		l.Warn("renewal credential without rotation entry", slog.String("sub", claims.Subject))
		return fail(claims.Subject, ErrCredentialInvalid, "unknown")
	}
	if err != nil {
		return domain.TokenPair{}, s.unavailable(ctx, "renew.rotation", err)
	}
	if entry.ChainID != claims.ChainID || entry.Subject != claims.Subject {
		return fail(claims.Subject, ErrCredentialInvalid, "mismatch")
	}
	if entry.Consumed() {
		return domain.TokenPair{}, s.reuseDetected(ctx, entry, dc)
	}

	// 4. issue
	pair, access, renewal, err := s.issuePair(jwtx.Claims{
		SID:           claims.SID,
		Username:      claims.Username,
		PreferredName: claims.PreferredName,
	}, claims.Subject, claims.ChainID, cid, now)
	if err != nil {
		return domain.TokenPair{}, err
	}

	// 5-6. revoke the old credential and consume it, together
	wctx, cancel := s.detachedCtx(ctx)
	defer cancel()
	err = s.Store.WithTx(wctx, func(tx store.Tx) error {
		if err := s.chainOpen(wctx, tx, claims.ChainID, cid); err != nil {
			return err
		}
		if err := s.rotations.in(tx).RecordRotation(wctx, Rotation{
			ParentCID: cid,
			ChildCID:  renewal.CID(),
			AccessCID: access.CID(),
			Subject:   claims.Subject,
			ChainID:   claims.ChainID,
			ExpiresAt: renewal.ExpiresAtTime(),
			IssuedAt:  now,
		}); err != nil {
			return err
		}
		return s.revocations.in(tx).Revoke(wctx, cid, claims.Subject, jwtx.KindRenewal, claims.ExpiresAtTime(), domain.ReasonRotated)
	})
	if errors.Is(err, errChainClosed) {
		return fail(claims.Subject, ErrCredentialRevoked, "chain_revoked")
	}
	if errors.Is(err, store.ErrAlreadyConsumed) {
		// Lost the race to a concurrent exchange of the same credential.
		return domain.TokenPair{}, s.reuseDetected(ctx, entry, dc)
	}
	if err != nil {
		return domain.TokenPair{}, s.unavailable(ctx, "renew.rotate", err)
	}

	// 7. session touch-up, fail open
	if err := s.sessions.Upsert(wctx, domain.Session{
		ID:         claims.SID,
		Subject:    claims.Subject,
		ChainID:    claims.ChainID,
		CurrentCID: renewal.CID(),
		Device:     dc.Device,
		Network:    dc.Network,
		CreatedAt:  now,
		LastSeenAt: now,
		ExpiresAt:  renewal.ExpiresAtTime(),
	}); err != nil {
		l.Warn("session update after renewal failed", slog.String("sid", claims.SID), slog.Any("error", err))
	}

	// 8. audit
	s.Metrics.Event("renew", true)
	s.record(ctx, domain.AuditEvent{
		Type: domain.AuditRenewalSuccess, Subject: claims.Subject, Success: true,
		Detail: auditDetail(map[string]any{"session_id": claims.SID, "parent_cid": cid}),
	}, dc)

	return pair, nil
}

// chainOpen locks the chain's session and re-checks cid inside the rotation
// transaction. Every revocation path marks the session before it lists the
// chain, so a revocation that commits first is seen here and one that
// commits later sees the new child.
func (s *SessionService) chainOpen(ctx context.Context, tx store.Tx, chainID, cid string) error {
	sess, err := s.sessions.in(tx).lockChain(ctx, chainID)
	if errors.Is(err, ErrSessionNotFound) {
		return errChainClosed
	}
	if err != nil {
		return err
	}
	if sess.RevokedAt != nil {
		return errChainClosed
	}

	rv, revoked, err := s.revocations.in(tx).Lookup(ctx, cid)
	if err != nil {
		return err
	}
	if revoked && rv.Reason != domain.ReasonRotated {
		return errChainClosed
	}
	return nil
}

// reuseDetected revokes the affected chain (or every session of the subject
// when configured) and returns ErrSecurityViolation whatever happens.
func (s *SessionService) reuseDetected(ctx context.Context, entry domain.Rotation, dc DeviceContext) error {
	l := slogx.FromContext(ctx)
	s.Metrics.ReuseDetected()
	s.Metrics.Event("renew", false)

	wctx, cancel := s.detachedCtx(ctx)
	defer cancel()

	revokedChains := 0
	err := s.Store.WithTx(wctx, func(tx store.Tx) error {
		if s.ReuseRevokesAllSessions {
			sessions, err := s.sessions.in(tx).RevokeAll(wctx, entry.Subject, "", domain.ReasonReuseDetected)
			if err != nil {
				return err
			}
			for _, sess := range sessions {
				if sess.ChainID == entry.ChainID {
					continue
				}
				if err := s.revokeChainCredentials(wctx, tx, sess.ChainID, domain.ReasonReuseDetected); err != nil {
					return err
				}
				revokedChains++
			}
		}

		if err := s.revokeChain(wctx, tx, entry.ChainID, entry.Subject, domain.ReasonReuseDetected); err != nil {
			return err
		}
		revokedChains++
		return nil
	})
	if err != nil {
		s.Metrics.StoreFailure("renew.reuse")
		l.Error("revoking chain after reuse failed",
			slog.String("sub", entry.Subject),
			slog.String("chain_id", entry.ChainID),
			slog.Any("error", err),
		)
	}

	l.Warn("renewal credential reuse detected",
		slog.String("sub", entry.Subject),
		slog.String("chain_id", entry.ChainID),
		slog.Int("chains_revoked", revokedChains),
	)
	s.record(ctx, domain.AuditEvent{
		Type: domain.AuditReuseDetected, Subject: entry.Subject,
		Detail: auditDetail(map[string]any{
			"chain_id":       entry.ChainID,
			"cid":            entry.CID,
			"chains_revoked": revokedChains,
		}),
	}, dc)

	return ErrSecurityViolation
}

// Logout revokes the presented access credential and, when its session can
// be found, the rest of that chain and the session. An authentic access
// credential that has expired still ends its session. It never reports
// failure so callers learn nothing about the credential.
func (s *SessionService) Logout(ctx context.Context, token string, dc DeviceContext) {
	l := slogx.FromContext(ctx)

	claims, err := s.Codec.VerifyExpired(token, jwtx.KindAccess, s.Clock.Now())
	expired := errors.Is(err, jwtx.ErrExpired)
	if err != nil && !expired {
		l.Debug("logout with unusable credential", slog.Any("error", err))
		return
	}

	wctx, cancel := s.detachedCtx(ctx)
	defer cancel()

	err = s.Store.WithTx(wctx, func(tx store.Tx) error {
		if !expired {
			if err := s.revocations.in(tx).Revoke(wctx, claims.CID(), claims.Subject, jwtx.KindAccess, claims.ExpiresAtTime(), domain.ReasonLogout); err != nil {
				return err
			}
		}
		if claims.SID == "" {
			return nil
		}

		sess, err := s.sessions.in(tx).Get(wctx, claims.SID, claims.Subject)
		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return s.revokeChain(wctx, tx, sess.ChainID, claims.Subject, domain.ReasonLogout)
	})
	if err != nil {
		s.Metrics.StoreFailure("logout")
		l.Error("logout revocation failed", slog.String("sub", claims.Subject), slog.Any("error", err))
	}

	s.Metrics.Event("logout", err == nil)
	s.record(ctx, domain.AuditEvent{
		Type: domain.AuditLogout, Subject: claims.Subject, Success: err == nil,
		Detail: auditDetail(map[string]any{"session_id": claims.SID, "access_expired": expired}),
	}, dc)
}

// Authorize verifies an access credential and checks it is not revoked.
func (s *SessionService) Authorize(ctx context.Context, token string) (jwtx.Claims, error) {
	if token == "" {
		return jwtx.Claims{}, ErrUnauthorized
	}

	claims, err := s.Codec.Verify(token, jwtx.KindAccess, s.Clock.Now())
	switch {
	case errors.Is(err, jwtx.ErrExpired):
		return jwtx.Claims{}, ErrCredentialExpired
	case err != nil:
		return jwtx.Claims{}, ErrUnauthorized
	}

	rctx, cancel := s.storeCtx(ctx)
	defer cancel()
	revoked, err := s.revocations.IsRevoked(rctx, claims.CID())
	if err != nil {
		return jwtx.Claims{}, s.unavailable(ctx, "authorize.revocation", err)
	}
	if revoked {
		return jwtx.Claims{}, ErrCredentialRevoked
	}
	return claims, nil
}

// ListSessions returns subject's active sessions, marking currentSessionID.
func (s *SessionService) ListSessions(ctx context.Context, subject, currentSessionID string) ([]SessionSummary, error) {
	rctx, cancel := s.storeCtx(ctx)
	defer cancel()

	sessions, err := s.sessions.List(rctx, subject)
	if err != nil {
		return nil, s.unavailable(ctx, "sessions.list", err)
	}

	out := make([]SessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, SessionSummary{Session: sess, Current: sess.ID == currentSessionID})
	}
	return out, nil
}

// RevokeSession revokes one of subject's sessions and every credential of
// its chain.
func (s *SessionService) RevokeSession(ctx context.Context, subject, sessionID string, dc DeviceContext) error {
	wctx, cancel := s.detachedCtx(ctx)
	defer cancel()

	err := s.Store.WithTx(wctx, func(tx store.Tx) error {
		sess, err := s.sessions.in(tx).Revoke(wctx, sessionID, subject, domain.ReasonSessionRevoked)
		if err != nil {
			return err
		}
		return s.revokeChainCredentials(wctx, tx, sess.ChainID, domain.ReasonSessionRevoked)
	})
	if errors.Is(err, ErrSessionNotFound) {
		return ErrSessionNotFound
	}
	if err != nil {
		return s.unavailable(ctx, "sessions.revoke", err)
	}

	s.record(ctx, domain.AuditEvent{
		Type: domain.AuditSessionRevoked, Subject: subject, Success: true,
		Detail: auditDetail(map[string]any{"session_id": sessionID}),
	}, dc)
	return nil
}

// RevokeOtherSessions revokes every session of subject except the current
// one and returns how many it revoked.
func (s *SessionService) RevokeOtherSessions(ctx context.Context, subject, currentSessionID string, dc DeviceContext) (int, error) {
	wctx, cancel := s.detachedCtx(ctx)
	defer cancel()

	var revoked int
	err := s.Store.WithTx(wctx, func(tx store.Tx) error {
		sessions, err := s.sessions.in(tx).RevokeAll(wctx, subject, currentSessionID, domain.ReasonSessionsRevoked)
		if err != nil {
			return err
		}
		for _, sess := range sessions {
			if err := s.revokeChainCredentials(wctx, tx, sess.ChainID, domain.ReasonSessionsRevoked); err != nil {
				return err
			}
		}
		revoked = len(sessions)
		return nil
	})
	if err != nil {
		return 0, s.unavailable(ctx, "sessions.revoke_others", err)
	}

	s.record(ctx, domain.AuditEvent{
		Type: domain.AuditSessionsRevoked, Subject: subject, Success: true,
		Detail: auditDetail(map[string]any{"kept_session_id": currentSessionID, "revoked": revoked}),
	}, dc)
	return revoked, nil
}

// revokeChain revokes chainID's session and then every credential in the
// chain. The session goes first so a rotation in flight either sees it
// revoked or has committed its child before the chain is listed.
func (s *SessionService) revokeChain(ctx context.Context, tx store.Tx, chainID, subject, reason string) error {
	sess, err := s.sessions.in(tx).ByChain(ctx, chainID)
	switch {
	case errors.Is(err, ErrSessionNotFound):
	case err != nil:
		return err
	case sess.RevokedAt == nil:
		if _, err := s.sessions.in(tx).Revoke(ctx, sess.ID, subject, reason); err != nil && !errors.Is(err, ErrSessionNotFound) {
			return err
		}
	}

	return s.revokeChainCredentials(ctx, tx, chainID, reason)
}

// revokeChainCredentials puts every renewal and access cid recorded for the
// chain on the denylist. Callers revoke the chain's session first.
func (s *SessionService) revokeChainCredentials(ctx context.Context, tx store.Tx, chainID, reason string) error {
	entries, err := s.rotations.in(tx).Chain(ctx, chainID)
	if err != nil {
		return err
	}

	ledger := s.revocations.in(tx)
	accessTTL := s.Codec.TTL(jwtx.KindAccess)
	for _, e := range entries {
		if err := ledger.Revoke(ctx, e.CID, e.Subject, jwtx.KindRenewal, e.ExpiresAt, reason); err != nil {
			return err
		}
		if e.AccessCID == "" {
			continue
		}
		if err := ledger.Revoke(ctx, e.AccessCID, e.Subject, jwtx.KindAccess, e.CreatedAt.Add(accessTTL), reason); err != nil {
			return err
		}
	}
	return nil
}

// issuePair signs an access and a renewal credential for subject. base
// carries the display attributes and session id shared by both.
func (s *SessionService) issuePair(base jwtx.Claims, subject, chainID, parentCID string, now time.Time) (domain.TokenPair, jwtx.Claims, jwtx.Claims, error) {
	base.Subject = subject

	accessIn := base
	accessIn.ID = s.Clock.New().String()
	accessToken, access, err := s.Codec.Issue(accessIn, jwtx.KindAccess, now)
	if err != nil {
		return domain.TokenPair{}, jwtx.Claims{}, jwtx.Claims{}, err
	}

	renewalIn := base
	renewalIn.ID = s.Clock.New().String()
	renewalIn.ChainID = chainID
	renewalIn.ParentCID = parentCID
	renewalToken, renewal, err := s.Codec.Issue(renewalIn, jwtx.KindRenewal, now)
	if err != nil {
		return domain.TokenPair{}, jwtx.Claims{}, jwtx.Claims{}, err
	}

	return domain.TokenPair{
		Access:           accessToken,
		Renewal:          renewalToken,
		TokenType:        "Bearer",
		AccessExpiresAt:  access.ExpiresAtTime(),
		RenewalExpiresAt: renewal.ExpiresAtTime(),
		SessionID:        base.SID,
	}, access, renewal, nil
}

// throttle records one hit. Guard failures let the request through.
func (s *SessionService) throttle(ctx context.Context, p throttle.Policy, key string) error {
	if s.Guard == nil {
		return nil
	}

	d, err := s.Guard.Check(ctx, key, p)
	if err != nil {
		guardErrSampler.Warn(ctx, "throttle guard unavailable, allowing request",
			slog.String("policy", p.Name),
			slog.Any("error", err),
		)
		return nil
	}
	if !d.Allowed {
		s.Metrics.Throttled(p.Name)
		return &RateLimitError{Policy: p.Name, RetryAfter: d.RetryAfter}
	}
	return nil
}

func (s *SessionService) record(ctx context.Context, e domain.AuditEvent, dc DeviceContext) {
	if s.Audit == nil {
		return
	}
	e.Network = dc.Network
	e.Device = dc.Device
	s.Audit.Record(ctx, e)
}
