package tls

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/acme"
	"golang.org/x/crypto/acme/autocert"
	"golang.org/x/sync/errgroup"

	"github.com/geisonhoehr-ai/everest-preparatorios-sub008/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

const renewBefore = 30 * 24 * time.Hour

var cipherSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
}

// CertManager serves either a static key pair or certificates obtained through
// ACME autocert for the configured domains.
type CertManager struct {
	ctx             context.Context
	cancel          context.CancelFunc
	logger          types.Logger
	config          *types.TLSConfig
	autocertMgr     *autocert.Manager
	mu              sync.RWMutex
	certificates    map[string]*tls.Certificate
	state           atomic.Value
	stopCh          chan struct{}
	renewalInterval time.Duration
}

func NewCertManager(ctx context.Context, logger types.Logger, config types.ConfigManager, health types.HealthManager) (*CertManager, error) {
	tlsConfig := config.GetConfig().Server.TLS
	if tlsConfig == nil {
		return nil, types.Errorf(types.ErrConfigIsNil, "server.tls")
	}

	managerCtx, cancel := context.WithCancel(ctx)

	cm := &CertManager{
		ctx:             managerCtx,
		cancel:          cancel,
		logger:          logger,
		config:          tlsConfig,
		certificates:    make(map[string]*tls.Certificate),
		renewalInterval: 12 * time.Hour,
	}

	cm.state.Store(StateStopped)

	if tlsConfig.AutoCert {
		if err := cm.initializeAutocert(); err != nil {
			cancel()
			return nil, types.WrapError(err, "failed to initialize autocert manager")
		}
	}

	if health != nil {
		health.RegisterChecker("tls", cm.healthCheck)
	}

	return cm, nil
}

// Listen opens a TLS listener on addr. The manager must be running.
func (cm *CertManager) Listen(addr string) (net.Listener, error) {
	if !cm.IsRunning() {
		return nil, types.ErrServerNotRunning
	}

	tlsConfig := cm.GetTLSConfig()
	if tlsConfig == nil {
		return nil, types.Errorf(types.ErrTLSConfigInvalid, "no certificate available")
	}

	ln, err := tls.Listen("tcp", addr, tlsConfig)
	if err != nil {
		return nil, types.WrapError(err, "failed to create TLS listener")
	}
	return ln, nil
}

func (cm *CertManager) GetTLSConfig() *tls.Config {
	tlsConfig := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		CipherSuites: cipherSuites,
		NextProtos:   []string{"http/1.1"},
	}

	if cm.autocertMgr != nil {
		tlsConfig.GetCertificate = cm.logCertificateErrors(cm.autocertMgr.GetCertificate)
		tlsConfig.NextProtos = append(tlsConfig.NextProtos, acme.ALPNProto)
		return tlsConfig
	}

	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if len(cm.certificates) == 0 {
		return nil
	}
	for _, cert := range cm.certificates {
		tlsConfig.Certificates = append(tlsConfig.Certificates, *cert)
	}

	return tlsConfig
}

func (cm *CertManager) Start() error {
	if !cm.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	if cm.config.AutoCert {
		cm.preloadCertificates()
	} else if err := cm.loadStaticCertificate(); err != nil {
		cm.setState(StateStopped)
		return err
	}

	cm.stopCh = make(chan struct{})
	if cm.autocertMgr != nil {
		cm.startRenewalMonitor(cm.stopCh)
	}

	cm.setState(StateRunning)

	cm.logger.Info("TLS certificate manager started",
		zap.Bool("auto_cert", cm.config.AutoCert),
		zap.Strings("domains", cm.config.Domains))

	return nil
}

func (cm *CertManager) Stop() error {
	if !cm.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}
	defer cm.setState(StateStopped)

	close(cm.stopCh)

	cm.logger.Info("TLS certificate manager stopped")
	return nil
}

func (cm *CertManager) IsRunning() bool {
	return cm.getState() == StateRunning
}

func (cm *CertManager) getState() State {
	return cm.state.Load().(State)
}

func (cm *CertManager) setState(newState State) bool {
	currentState := cm.getState()
	return cm.state.CompareAndSwap(currentState, newState)
}

func (cm *CertManager) transitionState(from, to State) bool {
	return cm.state.CompareAndSwap(from, to)
}

func (cm *CertManager) loadStaticCertificate() error {
	if cm.config.CertFile == "" || cm.config.KeyFile == "" {
		return types.Errorf(types.ErrTLSConfigInvalid, "cert_file and key_file are required")
	}

	cert, err := tls.LoadX509KeyPair(cm.config.CertFile, cm.config.KeyFile)
	if err != nil {
		return types.Errorf(types.ErrTLSConfigInvalid, "failed to load key pair: %v", err)
	}

	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return types.Errorf(types.ErrTLSConfigInvalid, "failed to parse certificate: %v", err)
	}

	now := time.Now()
	if now.Before(leaf.NotBefore) {
		return types.Errorf(types.ErrTLSConfigInvalid, "certificate not yet valid")
	}
	if now.After(leaf.NotAfter) {
		return types.Errorf(types.ErrTLSConfigInvalid, "certificate expired at %s", leaf.NotAfter.Format(time.RFC3339))
	}

	cert.Leaf = leaf

	name := leaf.Subject.CommonName
	if len(leaf.DNSNames) > 0 {
		name = leaf.DNSNames[0]
	}

	cm.mu.Lock()
	cm.certificates[name] = &cert
	cm.mu.Unlock()

	return nil
}

func (cm *CertManager) initializeAutocert() error {
	if len(cm.config.Domains) == 0 {
		return types.Errorf(types.ErrTLSConfigInvalid, "no domains specified for TLS certificate")
	}

	cacheDir := cm.config.CacheDir
	if cacheDir == "" {
		cacheDir = "./certs"
	}

	if err := os.MkdirAll(cacheDir, 0700); err != nil {
		return types.WrapError(err, "failed to create certificate cache directory")
	}

	cm.autocertMgr = &autocert.Manager{
		Cache:       autocert.DirCache(cacheDir),
		Prompt:      autocert.AcceptTOS,
		HostPolicy:  autocert.HostWhitelist(cm.config.Domains...),
		Email:       cm.config.Email,
		RenewBefore: renewBefore,
	}

	return nil
}

func (cm *CertManager) logCertificateErrors(getCert func(*tls.ClientHelloInfo) (*tls.Certificate, error)) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
		cert, err := getCert(hello)
		if err != nil {
			cm.logger.Error("Failed to get certificate",
				zap.String("server_name", hello.ServerName),
				zap.Error(err))
			return nil, err
		}
		return cert, nil
	}
}

// preloadCertificates fetches every domain concurrently. Failures are logged; the
// certificate is requested again on the first handshake.
func (cm *CertManager) preloadCertificates() {
	ctx, cancel := context.WithTimeout(cm.ctx, 60*time.Second)
	defer cancel()

	g, _ := errgroup.WithContext(ctx)

	for _, domain := range cm.config.Domains {
		d := domain
		g.Go(func() error {
			cert, err := cm.autocertMgr.GetCertificate(&tls.ClientHelloInfo{ServerName: d})
			if err != nil {
				cm.logger.Warn("Failed to preload certificate", zap.String("domain", d), zap.Error(err))
				return nil
			}

			cm.mu.Lock()
			cm.certificates[d] = cert
			cm.mu.Unlock()

			cm.logger.Info("Certificate preloaded successfully", zap.String("domain", d))
			return nil
		})
	}

	_ = g.Wait()
}

func (cm *CertManager) startRenewalMonitor(stopCh chan struct{}) {
	ticker := time.NewTicker(cm.renewalInterval)

	go func() {
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				cm.checkCertificateRenewal()
			case <-stopCh:
				return
			case <-cm.ctx.Done():
				return
			}
		}
	}()
}

func (cm *CertManager) checkCertificateRenewal() {
	for domain, status := range cm.GetCertificateStatus() {
		if status.Status == "valid" {
			continue
		}

		cert, err := cm.autocertMgr.GetCertificate(&tls.ClientHelloInfo{ServerName: domain})
		if err != nil {
			cm.logger.Error("Failed to renew certificate", zap.String("domain", domain), zap.Error(err))
			continue
		}

		cm.mu.Lock()
		cm.certificates[domain] = cert
		cm.mu.Unlock()

		cm.logger.Info("Certificate renewed successfully", zap.String("domain", domain))
	}
}

func (cm *CertManager) GetCertificateStatus() map[string]types.CertificateStatus {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	status := make(map[string]types.CertificateStatus, len(cm.certificates))

	for domain, cert := range cm.certificates {
		leaf := cert.Leaf
		if leaf == nil && len(cert.Certificate) > 0 {
			leaf, _ = x509.ParseCertificate(cert.Certificate[0])
		}
		if leaf == nil {
			status[domain] = types.CertificateStatus{
				Domain: domain,
				Status: "error",
				Error:  "no certificate data",
			}
			continue
		}

		certStatus := "valid"
		remaining := time.Until(leaf.NotAfter)
		if remaining <= 0 {
			certStatus = "expired"
		} else if remaining <= renewBefore {
			certStatus = "expiring_soon"
		}

		status[domain] = types.CertificateStatus{
			Domain:          domain,
			Status:          certStatus,
			Issuer:          leaf.Issuer.String(),
			NotAfter:        leaf.NotAfter,
			DaysUntilExpiry: int(remaining.Hours() / 24),
		}
	}

	return status
}

func (cm *CertManager) healthCheck(_ context.Context) types.HealthCheck {
	check := types.HealthCheck{
		Name:      "tls",
		Status:    types.StatusHealthy,
		LastCheck: time.Now(),
		Details:   make(map[string]interface{}),
	}

	for domain, status := range cm.GetCertificateStatus() {
		check.Details[domain] = status.Status
		if status.Status == "expired" || status.Status == "error" {
			check.Status = types.StatusUnhealthy
			check.Message = "certificate unusable for " + domain
		}
	}

	return check
}
