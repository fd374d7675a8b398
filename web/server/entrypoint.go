// Package server implements the entry point for running a simulation web server.
package server

import (
	"context"
	"os"
	"runtime/pprof"
	"time"

	"github.com/edaniels/golog"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.viam.com/utils"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/simbotics/simsense/config"
	"github.com/simbotics/simsense/rig"
	"github.com/simbotics/simsense/web"
)

// Arguments for the command.
type Arguments struct {
	Bind       string `flag:"bind,usage=web bind address override (host:port)"`
	ConfigFile string `flag:"0,required,usage=simulation config file"`
	CPUProfile string `flag:"cpuprofile,usage=write cpu profile to file"`
	Debug      bool   `flag:"debug"`
	LogFile    string `flag:"log-file,usage=write logs to this file as well, with rotation"`
	Version    bool   `flag:"version,usage=print version"`
}

// RunServer is an entry point to starting the web server that can be called by main in a code
// sample or otherwise be used to initialize the server.
func RunServer(ctx context.Context, args []string, logger golog.Logger) (err error) {
	var argsParsed Arguments
	if err := utils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}

	// Always log the version, return early if the '-version' flag was provided.
	logger.Infof("simsense version: %s, hash: %s", config.Version, config.GitRevision)
	if argsParsed.Version {
		return
	}

	if argsParsed.CPUProfile != "" {
		f, err := os.Create(argsParsed.CPUProfile)
		if err != nil {
			return err
		}
		err = pprof.StartCPUProfile(f)
		if err != nil {
			return err
		}
		defer pprof.StopCPUProfile()
	}

	if !argsParsed.Debug {
		logger = logger.Desugar().WithOptions(zap.IncreaseLevel(zap.InfoLevel)).Sugar()
	}
	if argsParsed.LogFile != "" {
		var closer func()
		logger, closer = addFileLogger(logger, argsParsed.LogFile)
		defer closer()
	}

	initialReadCtx, cancel := context.WithTimeout(ctx, time.Second*5)
	cfg, err := config.Read(initialReadCtx, argsParsed.ConfigFile, logger)
	if err != nil {
		cancel()
		return err
	}
	cancel()

	if argsParsed.Bind != "" {
		cfg.Web.BindAddress = argsParsed.Bind
	}

	err = runRig(ctx, cfg, argsParsed, logger)
	if err != nil {
		logger.Errorw("error serving rig", "error", err)
	}
	return err
}

// addFileLogger tees the logger to a rotating file sink. The file sees debug
// entries regardless of the console level.
func addFileLogger(logger golog.Logger, path string) (golog.Logger, func()) {
	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    100, // megabytes
		MaxBackups: 5,
		MaxAge:     30, // days
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(rotator), zap.DebugLevel)
	l := logger.Desugar().WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, fileCore)
	}))
	closer := func() {
		utils.UncheckedError(rotator.Close())
	}
	return l.Sugar(), closer
}

func runRig(ctx context.Context, cfg *config.Config, argsParsed Arguments, logger golog.Logger) (err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	myRig, err := rig.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, myRig.Close(context.Background()))
	}()

	if err := myRig.World().Start(ctx); err != nil {
		return err
	}

	svc := web.New(myRig, logger)
	if err := svc.Start(ctx, cfg.Web.BindAddress); err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, svc.Stop(context.Background()))
	}()

	// watch for and deliver changes to the rig
	watcher, err := config.NewWatcher(ctx, cfg.ConfigFilePath, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, watcher.Close())
	}()
	onWatchDone := make(chan struct{})
	utils.ManagedGo(func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			select {
			case <-ctx.Done():
				return
			case newCfg := <-watcher.Config():
				if argsParsed.Bind != "" {
					newCfg.Web.BindAddress = argsParsed.Bind
				}
				if newCfg.Web.BindAddress != cfg.Web.BindAddress {
					logger.Warnw("bind address changes require a restart",
						"current", cfg.Web.BindAddress, "new", newCfg.Web.BindAddress)
				}
				if err := myRig.Reconfigure(ctx, newCfg); err != nil {
					logger.Errorw("error reconfiguring rig", "error", err)
					continue
				}
				cfg = newCfg
				logger.Infow("configuration updated", "file", cfg.ConfigFilePath)
			}
		}
	}, func() {
		close(onWatchDone)
	})
	defer func() {
		<-onWatchDone
	}()
	defer cancel()

	<-ctx.Done()
	return nil
}
