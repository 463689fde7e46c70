package main

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/ledgate/ledgate/internal/config"
	"github.com/ledgate/ledgate/internal/device"
	"github.com/ledgate/ledgate/internal/fuse"
	"github.com/ledgate/ledgate/internal/gpio"
	"github.com/ledgate/ledgate/internal/metrics"
	"github.com/ledgate/ledgate/internal/registrar"
	"github.com/ledgate/ledgate/pkg/api"
	"github.com/ledgate/ledgate/pkg/health"
	"github.com/ledgate/ledgate/pkg/status"
	"github.com/ledgate/ledgate/pkg/types"
	"github.com/ledgate/ledgate/pkg/utils"
)

const shutdownTimeout = 5 * time.Second

// daemon owns every collaborator of one device instance.
type daemon struct {
	cfg    *config.Configuration
	dryRun bool
	tmpDir string
	logger *utils.Logger

	registrar  *registrar.FileRegistrar
	publisher  *fuse.Publisher
	driver     types.LineDriver
	sim        *gpio.SimDriver
	collector  *metrics.Collector
	health     *health.Tracker
	controller *device.Controller
	server     *api.Server
	cancel     context.CancelFunc
}

// prepareDryRun switches cfg to the simulated driver and a scratch
// namespace. It returns the scratch directory.
func prepareDryRun(cfg *config.Configuration) (string, error) {
	dir, err := os.MkdirTemp("", "ledgate-")
	if err != nil {
		return "", err
	}
	cfg.Line.Driver = config.DriverSim
	cfg.Namespace.RunDir = filepath.Join(dir, "run")
	cfg.Namespace.MountRoot = filepath.Join(dir, "class")
	return dir, nil
}

func newDaemon(cfg *config.Configuration, dryRun bool, tmpDir string, logger *utils.Logger) (*daemon, error) {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	d := &daemon{cfg: cfg, dryRun: dryRun, tmpDir: tmpDir, logger: logger}

	reg, err := registrar.New(registrar.Config{
		RunDir:       cfg.Namespace.RunDir,
		DynamicBase:  cfg.Namespace.DynamicBase,
		DynamicLimit: cfg.Namespace.DynamicLimit,
	}, logger)
	if err != nil {
		return nil, err
	}
	d.registrar = reg

	pub, err := fuse.NewPublisher(fuse.Options{
		MountRoot:  cfg.Namespace.MountRoot,
		Debug:      cfg.Namespace.FuseDebug,
		AllowOther: cfg.Namespace.AllowOther,
		NodeMode:   cfg.Namespace.NodeMode,
		UID:        uint32(os.Getuid()),
		GID:        uint32(os.Getgid()),
		Detached:   dryRun,
	}, logger)
	if err != nil {
		return nil, err
	}
	d.publisher = pub

	if cfg.Line.Driver == config.DriverSim {
		d.sim = gpio.NewSimDriver(logger)
		d.driver = d.sim
	} else {
		drv, err := gpio.NewDriver(gpio.Options{
			Kind:      cfg.Line.Driver,
			Chip:      cfg.Line.Chip,
			SysfsRoot: cfg.Line.SysfsRoot,
		}, logger)
		if err != nil {
			return nil, err
		}
		d.driver = drv
	}

	metricsCfg := cfg.Monitoring.Metrics
	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   metricsCfg.Enabled,
		Port:      metricsCfg.Port,
		Path:      metricsCfg.Path,
		Labels:    metricsCfg.CustomLabels,
		Namespace: metricsCfg.Namespace,
	}, logger)
	if err != nil {
		return nil, err
	}
	d.collector = collector

	controller, err := device.NewController(device.Collaborators{
		Registrar: reg,
		Publisher: pub,
		Line:      d.driver,
	}, cfg.ControllerConfig(), collector, logger)
	if err != nil {
		return nil, err
	}
	d.controller = controller
	pub.Bind(controller)

	if checks := cfg.Monitoring.HealthChecks; checks.Enabled {
		d.health = health.NewTracker(health.TrackerConfig{
			ErrorThreshold:       checks.ErrorThreshold,
			UnavailableThreshold: checks.UnavailableThreshold,
			HealthCheckInterval:  checks.Interval,
		})
		d.health.OnStateChange(func(component string, oldState, newState health.HealthState, err error) {
			if err != nil {
				logger.Warn("Component %s went from %s to %s: %v", component, oldState, newState, err)
				return
			}
			logger.Info("Component %s went from %s to %s", component, oldState, newState)
		})
		controller.SetHealthTracker(d.health)
	}

	if apiCfg := cfg.Monitoring.API; apiCfg.Enabled {
		serverCfg := api.DefaultServerConfig()
		serverCfg.Address = apiCfg.Address
		serverCfg.EnableCORS = apiCfg.EnableCORS
		serverCfg.DeviceRoutes = apiCfg.DeviceRoute
		if metricsCfg.Enabled {
			serverCfg.MetricsHandler = collector.Handler()
		}
		sessionsCfg := status.DefaultTrackerConfig()
		sessionsCfg.HealthTracker = d.health
		sessions := status.NewTracker(sessionsCfg)
		d.server = api.NewServer(serverCfg, controller, sessions, d.health, logger)
		d.server.AddInfoSource("namespace", func() interface{} { return pub.Classes() })
		d.server.AddInfoSource("fuse", func() interface{} { return pub.Stats() })
		d.server.AddInfoSource("registrations", func() interface{} { return reg.Registered() })
		if metricsCfg.Enabled {
			d.server.AddInfoSource("metrics", func() interface{} { return collector.GetMetrics() })
		}
		if d.sim != nil {
			d.server.AddInfoSource("lines", func() interface{} { return d.sim.Lines() })
		}
	}

	return d, nil
}

// start brings the device up and starts the background services.
func (d *daemon) start(ctx context.Context) error {
	ctx, d.cancel = context.WithCancel(ctx)

	if err := d.collector.Start(ctx); err != nil {
		return err
	}
	if err := d.controller.Init(); err != nil {
		d.cancel()
		return err
	}
	if d.health != nil {
		go d.health.StartHealthChecks(ctx, d.controller.Probe)
	}
	if d.server != nil {
		d.server.StartBackground()
	}

	st := d.controller.Status()
	d.logger.Info("Device %s ready at %s (dry run: %v)", st.Name, st.Node, d.dryRun)
	return nil
}

// stop tears everything down in reverse order. It is safe to call after a
// failed start.
func (d *daemon) stop() {
	if d.cancel != nil {
		d.cancel()
	}

	if d.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := d.server.Shutdown(ctx); err != nil {
			d.logger.Warn("API shutdown: %v", err)
		}
		cancel()
	}

	if d.controller.Lifecycle() == types.LifecycleOpen {
		if err := d.controller.Close(types.SessionHandle{}); err != nil {
			d.logger.Warn("Releasing open claim: %v", err)
		}
	}
	if err := d.controller.Shutdown(); err != nil {
		d.logger.Warn("Controller shutdown: %v", err)
	}

	if d.cfg.Namespace.UnmountOnExit {
		d.publisher.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	if err := d.collector.Stop(ctx); err != nil {
		d.logger.Warn("Metrics shutdown: %v", err)
	}
	cancel()

	if d.tmpDir != "" {
		if err := os.RemoveAll(d.tmpDir); err != nil {
			d.logger.Warn("Removing %s: %v", d.tmpDir, err)
		}
	}
	d.logger.Info("Device %s stopped", d.cfg.Device.Name)
}
