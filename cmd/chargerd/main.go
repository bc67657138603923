package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	canopen "github.com/I-am-Invictus/honda-cb550"
	"github.com/I-am-Invictus/honda-cb550/pkg/bms"
	"github.com/I-am-Invictus/honda-cb550/pkg/can"
	_ "github.com/I-am-Invictus/honda-cb550/pkg/can/socketcan"
	_ "github.com/I-am-Invictus/honda-cb550/pkg/can/virtual"
	"github.com/I-am-Invictus/honda-cb550/pkg/charge"
	"github.com/I-am-Invictus/honda-cb550/pkg/control"
	"github.com/I-am-Invictus/honda-cb550/pkg/deltaq"
	"github.com/I-am-Invictus/honda-cb550/pkg/nmt"
	"github.com/I-am-Invictus/honda-cb550/pkg/pdo"
	"github.com/I-am-Invictus/honda-cb550/pkg/sdo"
	"github.com/I-am-Invictus/honda-cb550/pkg/telemetry"
)

var (
	canInterface = flag.String("i", "socketcan", "CAN interface type : socketcan, virtual")
	channel      = flag.String("c", "can0", "CAN channel e.g. can0, vcan0")
	serialDevice = flag.String("s", "/dev/ttyUSB0", "RS-485 serial device of the BMS")
	chargerNode  = flag.Int("n", int(deltaq.DefaultNodeId), "charger node id")
	localNode    = flag.Int("l", 0x01, "own node id used for heartbeat production")
	configPath   = flag.String("config", "", "charge profile INI file, empty uses defaults")
	remap        = flag.Bool("remap", true, "install the default RPDO mappings at startup")
	save         = flag.Bool("save", false, "persist the remapped PDOs on the charger")
	autoBringup  = flag.Bool("auto", true, "NMT-start the charger when it reports pre-operational")
	socStop      = flag.Int("soc", 95, "stop charging at this state of charge, percent")
	redisAddr    = flag.String("redis", "", "redis address for telemetry export, empty disables")
	logLevel     = flag.String("log", "info", "log level : debug, info, warn, error")
	logFile      = flag.String("logfile", "", "log file with rotation, empty logs to stderr")
)

func main() {
	flag.Parse()

	logger := newLogger(*logLevel, *logFile)
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("chargerd failed", "error", err)
		os.Exit(1)
	}
}

func newLogger(level string, file string) *slog.Logger {
	var out io.Writer = os.Stderr
	if file != "" {
		out = &lumberjack.Logger{
			Filename:   file,
			MaxSize:    10, // MB
			MaxBackups: 3,
			MaxAge:     28, // days
		}
	}
	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: slogLevel}))
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	profile := charge.DefaultProfile()
	if *configPath != "" {
		var err error
		profile, err = charge.LoadProfile(*configPath)
		if err != nil {
			return err
		}
	}
	controller, err := charge.NewController(profile)
	if err != nil {
		return err
	}

	bus, err := can.NewBus(*canInterface, *channel)
	if err != nil {
		return fmt.Errorf("failed to create CAN bus : %w", err)
	}
	bm := canopen.NewBusManager(logger, bus)
	if err := bus.Subscribe(bm); err != nil {
		return err
	}
	if err := bus.Connect(); err != nil {
		return err
	}
	defer bus.Disconnect()

	sdoClient, err := sdo.NewClient(logger, bm)
	if err != nil {
		return err
	}
	charger, err := deltaq.NewCharger(logger, bm, uint8(*chargerNode), sdoClient)
	if err != nil {
		return err
	}

	if deviceType, err := charger.ReadDeviceType(); err != nil {
		logger.Warn("charger did not answer device type read", "error", err)
	} else {
		logger.Info("charger detected", "deviceType", fmt.Sprintf("x%08x", deviceType))
	}
	if *remap {
		if err := charger.Remap(); err != nil {
			return fmt.Errorf("rpdo remap failed : %w", err)
		}
		if *save {
			if err := charger.StoreConfiguration(); err != nil {
				logger.Warn("charger refused to store parameters", "error", err)
			}
		}
	}

	pack, err := bms.Dial(logger, *serialDevice)
	if err != nil {
		return err
	}
	defer pack.Close()

	producer, err := nmt.NewProducer(logger, bm, uint8(*localNode))
	if err != nil {
		return err
	}
	consumer, err := nmt.NewConsumer(logger, bm)
	if err != nil {
		return err
	}
	rpdo1, err := pdo.NewTransmitter(logger, bm, deltaq.Rpdo1Mapping(uint8(*chargerNode)))
	if err != nil {
		return err
	}
	rpdo2, err := pdo.NewTransmitter(logger, bm, deltaq.Rpdo2Mapping(uint8(*chargerNode)))
	if err != nil {
		return err
	}

	var publisher *telemetry.Publisher
	if *redisAddr != "" {
		publisher, err = telemetry.NewPublisher(logger, *redisAddr)
		if err != nil {
			logger.Warn("telemetry export disabled", "error", err)
		} else {
			defer publisher.Close()
		}
	}

	cfg := control.DefaultConfig()
	cfg.SocStop = uint8(*socStop)
	cfg.AutoBringup = *autoBringup

	loop, err := control.NewLoop(logger, cfg, control.Parts{
		Pack:       pack,
		Controller: controller,
		Charger:    charger,
		Consumer:   consumer,
		Producer:   producer,
		Rpdo1:      rpdo1,
		Rpdo2:      rpdo2,
		Publisher:  publisher,
	})
	if err != nil {
		return err
	}

	logger.Info("chargerd running",
		"interface", *canInterface,
		"channel", *channel,
		"chargerId", *chargerNode,
		"packMaxVoltage", profile.PackMaxVoltage,
		"chargeCurrent", profile.ChargeCurrent,
	)
	return loop.Run(ctx)
}
