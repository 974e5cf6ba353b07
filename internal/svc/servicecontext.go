// Package svc wires every collaborator into the ServiceContext the
// handler/logic layers share, following the teacher's
// services/gateway/growth ServiceContext pattern: one constructor, one
// struct, everything built from config.Config.
package svc

import (
	"context"

	"github.com/zeromicro/go-zero/zrpc"

	"github.com/nimbus-tales/aegis-gateway/internal/admin"
	"github.com/nimbus-tales/aegis-gateway/internal/audit"
	"github.com/nimbus-tales/aegis-gateway/internal/config"
	"github.com/nimbus-tales/aegis-gateway/internal/connticket"
	"github.com/nimbus-tales/aegis-gateway/internal/dispatch"
	"github.com/nimbus-tales/aegis-gateway/internal/encryption"
	"github.com/nimbus-tales/aegis-gateway/internal/hub"
	"github.com/nimbus-tales/aegis-gateway/internal/identity"
	"github.com/nimbus-tales/aegis-gateway/internal/kv"
	"github.com/nimbus-tales/aegis-gateway/internal/ratelimit"
	"github.com/nimbus-tales/aegis-gateway/internal/session"
)

// ServiceContext bundles every component the HTTP handlers and hub
// endpoints depend on.
type ServiceContext struct {
	Config config.Config

	KV         kv.Gateway
	Sessions   *session.Store
	Tickets    *connticket.Service
	RateLimit  *ratelimit.Engine
	Encryption *encryption.Service
	Identity   *identity.Registry
	Dispatch   *dispatch.Registry
	Audit      *audit.Log

	EncryptionAdmin *admin.EncryptionAdmin
	RateLimitAdmin  *admin.RateLimitAdmin
	SessionAdmin    *admin.SessionAdmin

	AccountHub    *hub.Hub
	EncryptionHub *hub.Hub
	AdminMetrics  *hub.Hub
}

// NewServiceContext builds every collaborator from c and wires the
// cross-package callbacks (encryption violations -> audit log) that
// would otherwise require an import cycle.
func NewServiceContext(c config.Config) *ServiceContext {
	gateway := mustKVGateway(c)

	sessions := session.New(gateway, c.SessionConfig())
	tickets := connticket.New(gateway, c.ConnTicketTTL())

	rateLimit, err := ratelimit.New(gateway, c.RateLimit)
	if err != nil {
		panic(err)
	}

	encSvc := encryption.New(c.EncryptionConfig())

	db, err := audit.Connect(c.Audit)
	if err != nil {
		panic(err)
	}
	auditLog := audit.New(db)
	encSvc.OnSecurityViolation(func(userID, keyID, reasonClass string) {
		_ = auditLog.SecurityViolation(context.Background(), userID, keyID, reasonClass)
	})

	identityRegistry := identity.NewRegistry(identity.NewMockProvider(c.Identity.MockSecret))
	if c.Identity.RemoteRpc.Enabled {
		identityRegistry.Register("remote", identity.NewRemoteResolver(zrpc.MustNewClient(zrpc.RpcClientConf{
			Target: c.Identity.RemoteRpc.Target,
		})))
	}

	dispatchRegistry := dispatch.NewRegistry()

	deps := hub.Deps{
		Sessions:   sessions,
		Tickets:    tickets,
		Dispatcher: dispatchRegistry,
		RateLimit:  rateLimit,
		Encryption: encSvc,
	}
	accountHub := hub.New("accountHub", deps)
	encryptionHub := hub.New("encryptionHub", deps)
	adminMetricsHub := hub.New("adminMetricsHub", deps)

	encryptionAdmin := admin.NewEncryptionAdmin(encSvc, auditLog, accountHub, encryptionHub)
	rateLimitAdmin := admin.NewRateLimitAdmin(rateLimit, auditLog)
	sessionAdmin := admin.NewSessionAdmin(sessions, auditLog)

	publisher := admin.NewMetricsPublisher(adminMetricsHub, encSvc, rateLimit)
	encryptionAdmin.SetPublisher(publisher)
	rateLimitAdmin.SetPublisher(publisher)
	sessionAdmin.SetPublisher(publisher)

	return &ServiceContext{
		Config:     c,
		KV:         gateway,
		Sessions:   sessions,
		Tickets:    tickets,
		RateLimit:  rateLimit,
		Encryption: encSvc,
		Identity:   identityRegistry,
		Dispatch:   dispatchRegistry,
		Audit:      auditLog,

		EncryptionAdmin: encryptionAdmin,
		RateLimitAdmin:  rateLimitAdmin,
		SessionAdmin:    sessionAdmin,

		AccountHub:    accountHub,
		EncryptionHub: encryptionHub,
		AdminMetrics:  adminMetricsHub,
	}
}

func mustKVGateway(c config.Config) kv.Gateway {
	if c.KV.Backend == "memory" {
		return kv.NewMemoryGateway()
	}
	gateway, err := kv.NewRedisGateway(c.KV.Redis)
	if err != nil {
		panic(err)
	}
	return gateway
}
