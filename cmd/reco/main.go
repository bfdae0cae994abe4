package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/larpix-data/reco3d/internal/config"
	"github.com/larpix-data/reco3d/internal/monitoring"
	"github.com/larpix-data/reco3d/internal/reco"
	"github.com/larpix-data/reco3d/internal/recodb"
)

var (
	inPath          = flag.String("in", "", "Input hit database (required)")
	outPath         = flag.String("out", "", "Output database (default <in>-reco.db)")
	configPath      = flag.String("config", "", "Tuning JSON file (default built-in values)")
	verbose         = flag.Bool("v", false, "Verbose logging")
	disableTriggers = flag.Bool("disable-triggers", false, "Skip external trigger building and association")
	batch           = flag.Int("batch", 0, "Hits read per cycle (0 uses the configured value)")
)

func main() {
	flag.Parse()
	monitoring.SetVerbose(*verbose)

	if *inPath == "" {
		log.Fatal("-in is required")
	}
	if *outPath == "" {
		*outPath = strings.TrimSuffix(*inPath, ".db") + "-reco.db"
	}

	cfg := config.EmptyTuningConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}

	mask := cfg.GetChannelMask()
	buildTriggers := !*disableTriggers
	if buildTriggers && len(mask) == 0 {
		log.Fatal("trigger building enabled but channel_mask is empty; configure a mask or pass -disable-triggers")
	}
	readBatch := *batch
	if readBatch <= 0 {
		readBatch = cfg.GetReadBatch()
	}

	inDB, err := recodb.Open(*inPath)
	if err != nil {
		log.Fatalf("failed to open input database: %v", err)
	}
	defer inDB.Close()

	outDB, err := recodb.Open(*outPath)
	if err != nil {
		log.Fatalf("failed to open output database: %v", err)
	}
	defer outDB.Close()

	runID, runUUID, err := outDB.StartRun(*inPath)
	if err != nil {
		log.Fatalf("failed to start run: %v", err)
	}
	log.Printf("run %s: %s -> %s", runUUID, *inPath, *outPath)

	scanner, err := recodb.NewHitScanner(inDB)
	if err != nil {
		log.Fatalf("failed to open hit scanner: %v", err)
	}
	defer scanner.Close()

	active := reco.NewBuffer()
	out := reco.NewBuffer()

	stages := []reco.Stage{reco.NewHitReader(scanner, readBatch, active)}
	if buildTriggers {
		tb, err := reco.NewTriggerBuilder(reco.TriggerBuilderConfig{
			ChannelMask: mask,
			DTCut:       cfg.GetTriggerDTCutNanos(),
			Delay:       cfg.GetTriggerDelayNanos(),
		}, active, out)
		if err != nil {
			log.Fatalf("failed to build trigger stage: %v", err)
		}
		stages = append(stages, tb)
	}
	stages = append(stages,
		reco.NewEventBuilder(reco.EventBuilderConfig{
			MinNhit:           cfg.GetEventMinNhit(),
			MaxNhit:           cfg.GetEventMaxNhit(),
			DTCut:             cfg.GetEventDTCutNanos(),
			AssociateTriggers: buildTriggers && cfg.GetAssociateTriggers(),
			WindowMin:         cfg.GetTriggerWindowMinNanos(),
			WindowMax:         cfg.GetTriggerWindowMaxNanos(),
		}, active, out),
		reco.NewHoughTracker(reco.HoughConfig{
			Threshold:   cfg.GetHoughThreshold(),
			NDirections: cfg.GetHoughNDirections(),
			NPositions:  cfg.GetHoughNPositions(),
			DR:          cfg.GetHoughDR(),
		}, out),
		reco.NewCycleCounter(active, cfg.GetCounterInterval()),
	)
	writer := reco.NewRecordWriter(out, recodb.NewWriter(outDB, runID, cfg.GetWriteQueueLength()))
	stages = append(stages, writer)

	pipeline := reco.NewPipeline(active, out, stages...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := pipeline.Run(ctx)

	events, tracks, triggers := writer.Counts()
	if err := outDB.FinishRun(runID, events, tracks, triggers); err != nil {
		log.Printf("failed to record run end: %v", err)
	}
	log.Printf("run %s: %d cycles, %d events, %d tracks, %d triggers",
		runUUID, pipeline.Cycles(), events, tracks, triggers)
	if runErr != nil {
		log.Printf("run %s ended with error: %v", runUUID, runErr)
		os.Exit(1)
	}
}
