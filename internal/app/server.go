package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"

	cronv3 "github.com/robfig/cron/v3"

	"imbridge/internal/config"
	"imbridge/internal/core"
	"imbridge/internal/feishu"
	"imbridge/internal/wecom"
)

const version = "0.1.0"

// Server wires the channel webhook handlers, the shared host services
// and the status surface into one HTTP gateway.
type Server struct {
	cfg      config.Config
	logf     func(format string, args ...any)
	services core.Services
	status   *StatusTracker
	pairing  *core.FilePairingStore

	feishuClient  *feishu.Client
	wecomClient   *wecom.Client
	feishuHandler *feishu.Handler
	wecomHandler  *wecom.Handler

	feishuAccounts []feishu.ResolvedAccount
	wecomAccounts  []wecom.ResolvedAccount

	cron      *cronv3.Cron
	stops     []func()
	closeOnce sync.Once
}

func NewServer(cfg config.Config) (*Server, error) {
	sessions, err := core.NewFileSessionStore(cfg.Server.DataDir)
	if err != nil {
		return nil, fmt.Errorf("init session store: %w", err)
	}
	pairing, err := core.NewFilePairingStore(cfg.Server.DataDir)
	if err != nil {
		return nil, fmt.Errorf("init pairing store: %w", err)
	}

	var agent core.Agent
	if cfg.Agent.Endpoint != "" {
		agent = core.NewHTTPAgent(cfg.Agent.Endpoint, cfg.Agent.Timeout.Std())
	}

	var feishuBase, wecomBase string
	if cfg.Channels.Feishu != nil {
		feishuBase = cfg.Channels.Feishu.APIBase
	}
	if cfg.Channels.WeCom != nil {
		wecomBase = cfg.Channels.WeCom.APIBase
	}

	srv := &Server{
		cfg:     cfg,
		logf:    log.Printf,
		status:  NewStatusTracker(),
		pairing: pairing,
		services: core.Services{
			Routing:  core.NewStaticRouteResolver(),
			Sessions: sessions,
			Pairing:  pairing,
			Commands: core.NewGate(),
			Replies:  core.NewBufferedDispatcher(agent),
		},
		feishuClient: feishu.NewClient(feishuBase),
		wecomClient:  wecom.NewClient(wecomBase),
	}

	verbose := func() bool { return cfg.Logging.Verbose }
	useAccessGroups := cfg.Commands.AccessGroupsEnabled()
	srv.feishuHandler = feishu.NewHandler(feishu.HandlerOptions{
		Client:          srv.feishuClient,
		Services:        srv.services,
		UseAccessGroups: useAccessGroups,
		Verbose:         verbose,
		Logf:            srv.logf,
	})
	srv.wecomHandler = wecom.NewHandler(wecom.HandlerOptions{
		Client:          srv.wecomClient,
		Services:        srv.services,
		UseAccessGroups: useAccessGroups,
		Verbose:         verbose,
		Logf:            srv.logf,
	})

	srv.startChannels()
	srv.startProbeScheduler()
	return srv, nil
}

// startChannels registers every enabled account of every configured
// channel. A failing account is reported as a status issue and does not
// stop the others.
func (s *Server) startChannels() {
	if cfg := s.cfg.Channels.Feishu; cfg != nil {
		for _, account := range feishu.ListEnabledAccounts(cfg) {
			sink := s.status.Sink(feishu.ChannelID, account.AccountID)
			if !account.Credentials.Configured() {
				s.status.AddIssue(feishu.ChannelID, account.AccountID, "missing credentials (appId, appSecret)")
			}
			stop, err := s.feishuHandler.StartAccount(account, sink)
			if err != nil {
				s.status.AddIssue(feishu.ChannelID, account.AccountID, err.Error())
				s.logf("feishu account %s not started: %v", account.AccountID, err)
				continue
			}
			s.stops = append(s.stops, stop)
			s.status.SetRunning(feishu.ChannelID, account.AccountID, true)
			s.feishuAccounts = append(s.feishuAccounts, account)
			s.logf("feishu account %s listening", account.AccountID)
		}
	}
	if cfg := s.cfg.Channels.WeCom; cfg != nil {
		for _, account := range wecom.ListEnabledAccounts(cfg) {
			sink := s.status.Sink(wecom.ChannelID, account.AccountID)
			if !account.Credentials.Configured() {
				s.status.AddIssue(wecom.ChannelID, account.AccountID, "missing credentials (corpId, agentId, secret)")
			}
			stop, err := s.wecomHandler.StartAccount(account, sink)
			if err != nil {
				s.status.AddIssue(wecom.ChannelID, account.AccountID, err.Error())
				s.logf("wecom account %s not started: %v", account.AccountID, err)
				continue
			}
			s.stops = append(s.stops, stop)
			s.status.SetRunning(wecom.ChannelID, account.AccountID, true)
			s.wecomAccounts = append(s.wecomAccounts, account)
			s.logf("wecom account %s listening", account.AccountID)
		}
	}
}

// startProbeScheduler runs credential probes on the configured cron
// schedule.
func (s *Server) startProbeScheduler() {
	schedule := s.cfg.Probe.Schedule
	if schedule == "" {
		return
	}
	c := cronv3.New()
	if _, err := c.AddFunc(schedule, func() {
		s.RunProbes(context.Background())
	}); err != nil {
		s.logf("probe schedule %q invalid: %v", schedule, err)
		return
	}
	c.Start()
	s.cron = c
}

// RunProbes validates every running account's credentials against the
// provider and records the outcomes.
func (s *Server) RunProbes(ctx context.Context) {
	timeout := s.cfg.Probe.Timeout.Std()
	for _, account := range s.feishuAccounts {
		result := feishu.Probe(ctx, s.feishuClient, account.Credentials, timeout)
		s.status.RecordProbe(feishu.ChannelID, account.AccountID, result.OK, result.Error)
		if !result.OK {
			s.logf("feishu probe failed for %s: %s", account.AccountID, result.Error)
		}
	}
	for _, account := range s.wecomAccounts {
		result := wecom.Probe(ctx, s.wecomClient, account.Credentials, timeout)
		s.status.RecordProbe(wecom.ChannelID, account.AccountID, result.OK, result.Error)
		if !result.OK {
			s.logf("wecom probe failed for %s: %s", account.AccountID, result.Error)
		}
	}
}

// Status returns the current per-account snapshots.
func (s *Server) Status() []AccountStatus {
	return s.status.Snapshot()
}

// PairingRequests lists pending pairing requests, optionally filtered
// by channel.
func (s *Server) PairingRequests(channel string) []core.PairingRequest {
	return s.pairing.Requests(channel)
}

// ApprovePairing resolves a pending pairing request by code, moves the
// sender onto the channel allow list and notifies them over the
// originating channel. Notification failure does not undo the approval.
func (s *Server) ApprovePairing(ctx context.Context, channel, code string) (string, error) {
	channel = strings.ToLower(strings.TrimSpace(channel))
	sender, err := s.pairing.Approve(channel, code)
	if err != nil {
		return "", err
	}
	s.logf("pairing approved on %s for %s", channel, sender)
	s.notifyPaired(ctx, channel, sender)
	return sender, nil
}

func (s *Server) notifyPaired(ctx context.Context, channel, senderID string) {
	switch channel {
	case feishu.ChannelID:
		account, ok := s.runningFeishuAccount()
		if !ok {
			s.logf("pairing approved for %s but no feishu account is running", senderID)
			return
		}
		if result := feishu.SendText(ctx, s.feishuClient, account, senderID, core.PairingApprovedMessage); !result.OK {
			s.logf("pairing notification to %s failed: %v", senderID, result.Err)
		}
	case wecom.ChannelID:
		account, ok := s.runningWecomAccount()
		if !ok {
			s.logf("pairing approved for %s but no wecom account is running", senderID)
			return
		}
		if result := wecom.SendText(ctx, s.wecomClient, account, senderID, core.PairingApprovedMessage); !result.OK {
			s.logf("pairing notification to %s failed: %v", senderID, result.Err)
		}
	}
}

func (s *Server) runningFeishuAccount() (feishu.ResolvedAccount, bool) {
	def := feishu.ResolveDefaultAccountID(s.cfg.Channels.Feishu)
	for _, account := range s.feishuAccounts {
		if account.AccountID == def {
			return account, true
		}
	}
	if len(s.feishuAccounts) > 0 {
		return s.feishuAccounts[0], true
	}
	return feishu.ResolvedAccount{}, false
}

func (s *Server) runningWecomAccount() (wecom.ResolvedAccount, bool) {
	def := wecom.ResolveDefaultAccountID(s.cfg.Channels.WeCom)
	for _, account := range s.wecomAccounts {
		if account.AccountID == def {
			return account, true
		}
	}
	if len(s.wecomAccounts) > 0 {
		return s.wecomAccounts[0], true
	}
	return wecom.ResolvedAccount{}, false
}

// FeishuHandler exposes the channel handler for direct sends.
func (s *Server) FeishuHandler() *feishu.Handler { return s.feishuHandler }

// WecomHandler exposes the channel handler for direct sends.
func (s *Server) WecomHandler() *wecom.Handler { return s.wecomHandler }

// handleWebhook offers the request to each channel in turn.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if s.feishuHandler.HandleRequest(w, r) {
		return
	}
	if s.wecomHandler.HandleRequest(w, r) {
		return
	}
	http.NotFound(w, r)
}

func (s *Server) Close() {
	s.closeOnce.Do(func() {
		if s.cron != nil {
			s.cron.Stop()
		}
		for _, stop := range s.stops {
			stop()
		}
	})
}
