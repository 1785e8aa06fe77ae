package relay

import (
	"context"
	"os"
	"time"

	"github.com/sagernet/sing-relay/adapter"
	"github.com/sagernet/sing-relay/api"
	"github.com/sagernet/sing-relay/cachefile"
	"github.com/sagernet/sing-relay/common/geoip"
	"github.com/sagernet/sing-relay/common/taskmonitor"
	C "github.com/sagernet/sing-relay/constant"
	"github.com/sagernet/sing-relay/log"
	"github.com/sagernet/sing-relay/option"
	"github.com/sagernet/sing-relay/reachability"
	"github.com/sagernet/sing-relay/selector"
	"github.com/sagernet/sing-relay/updater"
	"github.com/sagernet/sing/common"
	E "github.com/sagernet/sing/common/exceptions"
	F "github.com/sagernet/sing/common/format"
	"github.com/sagernet/sing/service"
	"github.com/sagernet/sing/service/pause"
)

var _ adapter.SimpleLifecycle = (*Service)(nil)

type Options struct {
	option.Options
	Context context.Context
}

// Service is a relay directory instance assembled from a parsed
// configuration.
type Service struct {
	createdAt   time.Time
	ctx         context.Context
	logFactory  log.Factory
	logger      log.ContextLogger
	cacheFile   *cachefile.CacheFile
	geoReader   *geoip.Reader
	listManager *updater.Updater
	history     *reachability.HistoryStorage
	selector    *selector.Selector
	prober      *reachability.Prober
	apiServer   *api.Server
	services    []adapter.LifecycleService
	done        chan struct{}
}

func New(options Options) (*Service, error) {
	createdAt := time.Now()
	ctx := options.Context
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = service.ContextWithDefaultRegistry(ctx)
	ctx = pause.WithDefaultManager(ctx)
	needAPI := options.API != nil
	logFactory, err := log.New(log.Options{
		Context:       ctx,
		Options:       common.PtrValueOrDefault(options.Log),
		Observable:    needAPI,
		DefaultWriter: os.Stderr,
		BaseTime:      createdAt,
	})
	if err != nil {
		return nil, E.Cause(err, "create log factory")
	}
	s := &Service{
		createdAt:  createdAt,
		ctx:        ctx,
		logFactory: logFactory,
		logger:     logFactory.Logger(),
		done:       make(chan struct{}),
	}
	if options.CacheFile != nil && options.CacheFile.Enabled {
		s.cacheFile = cachefile.New(ctx, *options.CacheFile)
		service.MustRegister[adapter.CacheFile](ctx, s.cacheFile)
	}
	if options.GeoIP != nil && options.GeoIP.Path != "" {
		geoReader, openErr := geoip.Open(options.GeoIP.Path)
		if openErr != nil {
			if !os.IsNotExist(openErr) {
				s.logger.Warn(E.Cause(openErr, "open geoip database"))
			} else {
				s.logger.Debug("geoip database not found: ", options.GeoIP.Path)
			}
		} else {
			s.geoReader = geoReader
			service.MustRegister[adapter.CountryReader](ctx, geoReader)
			s.logger.Info("geoip database loaded from ", options.GeoIP.Path)
		}
	}
	s.listManager, err = updater.NewUpdater(ctx, logFactory.NewLogger("updater"), common.PtrValueOrDefault(options.RelayList))
	if err != nil {
		return nil, E.Cause(err, "create relay list updater")
	}
	service.MustRegister[adapter.ListManager](ctx, s.listManager)
	s.history = reachability.NewHistoryStorage()
	service.MustRegister[*reachability.HistoryStorage](ctx, s.history)
	s.selector, err = selector.NewSelector(ctx, logFactory.NewLogger("selector"), s.listManager, s.history, common.PtrValueOrDefault(options.Selector))
	if err != nil {
		return nil, E.Cause(err, "create selector")
	}
	service.MustRegister[adapter.RelaySelector](ctx, s.selector)
	s.prober, err = reachability.NewProber(ctx, logFactory.NewLogger("reachability"), s.listManager, s.history, common.PtrValueOrDefault(options.Reachability))
	if err != nil {
		return nil, E.Cause(err, "create reachability prober")
	}
	service.MustRegister[*reachability.Prober](ctx, s.prober)
	if needAPI {
		s.apiServer, err = api.NewServer(ctx, logFactory.(log.ObservableFactory), *options.API)
		if err != nil {
			return nil, E.Cause(err, "create management server")
		}
	}
	if s.cacheFile != nil {
		s.services = append(s.services, s.cacheFile)
	}
	s.services = append(s.services, s.listManager, s.selector, s.prober)
	if s.apiServer != nil {
		s.services = append(s.services, s.apiServer)
	}
	return s, nil
}

// Start starts all components in lifecycle order. On failure the service
// is closed before the error is returned.
func (s *Service) Start() error {
	err := s.start()
	if err != nil {
		s.Close()
		return err
	}
	s.logger.Info("sing-relay started (", F.Seconds(time.Since(s.createdAt).Seconds()), "s)")
	return nil
}

func (s *Service) start() error {
	monitor := taskmonitor.New(s.logger, C.StartTimeout)
	monitor.Start("start logger")
	err := s.logFactory.Start()
	monitor.Finish()
	if err != nil {
		return E.Cause(err, "start logger")
	}
	for _, stage := range adapter.ListStartStages {
		err = adapter.StartNamed(stage, s.services)
		if err != nil {
			return err
		}
	}
	return nil
}

// Close closes all components in reverse order. A second call returns
// os.ErrClosed.
func (s *Service) Close() error {
	select {
	case <-s.done:
		return os.ErrClosed
	default:
		close(s.done)
	}
	monitor := taskmonitor.New(s.logger, C.StopTimeout)
	var err error
	for i := len(s.services) - 1; i >= 0; i-- {
		lifecycleService := s.services[i]
		monitor.Start("close ", lifecycleService.Name())
		err = E.Append(err, lifecycleService.Close(), func(err error) error {
			return E.Cause(err, "close ", lifecycleService.Name())
		})
		monitor.Finish()
	}
	if s.geoReader != nil {
		err = E.Append(err, s.geoReader.Close(), func(err error) error {
			return E.Cause(err, "close geoip database")
		})
	}
	err = E.Append(err, s.logFactory.Close(), func(err error) error {
		return E.Cause(err, "close log factory")
	})
	return err
}

func (s *Service) ListManager() adapter.ListManager {
	return s.listManager
}

func (s *Service) Selector() adapter.RelaySelector {
	return s.selector
}
