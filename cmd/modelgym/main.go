// Copyright (C) 2026 ModelGym Authors
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at <https://mozilla.org/MPL/2.0/>.

// Package main provides the command-line interface and the main entry point for ModelGym.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/modelgym/modelgym/config"
	"github.com/modelgym/modelgym/evaluation"
	"github.com/modelgym/modelgym/formatters"
	"github.com/modelgym/modelgym/runners"
	"github.com/modelgym/modelgym/store"
	"github.com/modelgym/modelgym/version"
)

const (
	runCommandName             = "run"
	helpCommandName            = "help"
	versionCommandName         = "version"
	unsetFlagValue             = "\x00"
	exitCodeBadCommand         = 2
	exitCodeFinishedWithErrors = 3
	defaultConfigFile          = "config.yaml"
	progressEventBuffer        = 64
)

var commandDoc = map[string]string{
	runCommandName:     "start the benchmark sweep",
	helpCommandName:    "show help",
	versionCommandName: "show version",
}

var (
	csvFormatter        = formatters.NewCSVFormatter()
	logFormatter        = formatters.NewLogFormatter()
	summaryLogFormatter = formatters.NewSummaryLogFormatter()
)

var (
	configFilePath     = flag.String("config", defaultConfigFile, "configuration file path")
	testsFilePath      = flag.String("tests", unsetFlagValue, "test definitions file path")
	outputFileDir      = flag.String("output-dir", unsetFlagValue, "results output directory")
	outputFileBasename = flag.String("output-basename", unsetFlagValue, "base filename for results; replace if exists; blank = stdout")
	formatCSV          = formatFlag(csvFormatter, true)
	logFilePath        = flag.String("log", unsetFlagValue, "log file path; append if exists; blank = stdout")
	verbose            = flag.Bool("verbose", false, "enable detailed logging")
	debug              = flag.Bool("debug", false, "enable low-level debug logging")
	showProgress       = flag.Bool("progress", false, "narrate run progress events on standard output")
)

func formatFlag(formatter formatters.Formatter, defaultValue bool) *bool {
	fileExt := formatter.FileExt()
	return flag.Bool(strings.ToLower(fileExt), defaultValue, fmt.Sprintf("generate %s output", strings.ToUpper(fileExt)))
}

var stderr = zerolog.New(zerolog.NewConsoleWriter(
	func(w *zerolog.ConsoleWriter) {
		w.Out = os.Stderr
		w.TimeFormat = time.DateTime
		w.NoColor = true
	},
)).Level(zerolog.TraceLevel).With().Timestamp().Logger()

func init() {
	flag.Usage = func() {
		w := flag.CommandLine.Output()
		fmt.Fprintf(w, "Usage: %s [options] [command]\n", os.Args[0])
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Commands:")
		printCommandHelp(w, runCommandName, helpCommandName, versionCommandName)
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Options:")
		flag.PrintDefaults()
	}
}

func printCommandHelp(out io.Writer, commands ...string) {
	for _, cmdName := range commands {
		fmt.Fprintf(out, "  %s\n", cmdName)
		fmt.Fprintf(out, "        %s\n", commandDoc[cmdName])
	}
}

func main() {
	flag.Parse()
	for _, arg := range flag.Args() {
		switch arg {
		case helpCommandName:
			printHelp(os.Stdout)
			return
		case versionCommandName:
			printVersion(os.Stdout)
			return
		case runCommandName:
			if ok, err := run(context.Background()); err != nil {
				stderr.Fatal().Err(err).Send()
			} else if !ok {
				os.Exit(exitCodeFinishedWithErrors)
			}
			return
		}
	}
	printHelp(nil) // os.Stderr
	os.Exit(exitCodeBadCommand)
}

func run(ctx context.Context) (ok bool, err error) {
	configPath := filepath.Clean(*configFilePath)
	configDir, err := getConfigDirectory(configPath)
	if err != nil {
		return
	}

	// Load configuration.
	fmt.Printf("Loading configuration from file: %s\n", configPath)
	cfg, err := config.LoadConfigFromFile(ctx, configPath)
	if err != nil {
		return
	}

	// Load test definitions.
	testsFile := config.CleanIfNotBlank(getFlagValueIfSet(testsFilePath, config.MakeAbs(configDir, cfg.Config.TestSource)))
	fmt.Printf("Loading test definitions from file: %s\n", testsFile)
	tests, err := config.LoadTestsFromFile(ctx, testsFile)
	if err != nil {
		return
	}

	if len(cfg.Config.GetEnabledModels()) < 1 {
		fmt.Println("Nothing to run: all models are disabled.")
		return true, nil
	}
	if len(tests.TestConfig.GroupNames()) < 1 {
		fmt.Println("Nothing to run: no test groups are defined.")
		return true, nil
	}

	// Time to be used to resolve name patterns.
	timeRef := time.Now()

	// Create output files.
	outputWriters := make(map[formatters.Formatter]io.Writer)
	for _, formatter := range enabledFormatters() {
		outputWriters[formatter] = os.Stdout // default
		if fileName := getFlagValueIfSet(outputFileBasename, ""); config.IsNotBlank(fileName) {
			fileName = fmt.Sprintf("%s.%s", fileName, formatter.FileExt())
			if fp, outputPath, err := createOutputFile(config.MakeAbs(
				getFlagValueIfSet(outputFileDir, configDir), fileName), timeRef, false); err != nil {
				return ok, err
			} else if fp != nil {
				defer fp.Close()
				fmt.Printf("Results in %s format will be saved to: %s\n", strings.ToUpper(formatter.FileExt()), outputPath)
				outputWriters[formatter] = fp
			}
		}
	}

	// Configure logger.
	logWriters := []io.Writer{zerolog.NewConsoleWriter(
		func(w *zerolog.ConsoleWriter) {
			w.Out = os.Stdout
			w.TimeFormat = time.DateTime
			w.NoColor = false
		},
	)}
	logFile := os.Stdout
	if fp, logPath, err := createOutputFile(getFlagValueIfSet(logFilePath, config.MakeAbs(configDir, cfg.Config.LogFile)), timeRef, true); err != nil {
		return ok, err
	} else if fp != nil {
		fmt.Printf("Log messages will be saved to: %s\n", logPath)
		defer fp.Close()
		logFile = fp
		logWriters = append(logWriters, zerolog.NewConsoleWriter(
			func(w *zerolog.ConsoleWriter) {
				w.Out = logFile
				w.TimeFormat = time.DateTime
				w.NoColor = true
			},
		)) // format the file output as plain-text without color codes
	}
	logger := zerolog.New(zerolog.MultiLevelWriter(logWriters...)).Level(getEnabledLogLevel()).With().Timestamp().Logger()

	// Open the result store and register configured models.
	testStore, err := store.NewSQLiteStore(cfg.Config.DatabaseFile)
	if err != nil {
		return
	}
	defer testStore.Close()
	if err = testStore.SyncModels(ctx, toModelRecords(cfg.Config.Models)); err != nil {
		return
	}

	// Progress narration.
	progress, drained := startProgressSink()
	defer drained()

	// Evaluator agents for narrative scoring.
	evaluators, err := evaluation.NewEvaluators(ctx, cfg.Config.GetActiveEvaluators(), runners.NewEmittingLogger(logger, runners.NopSink{}, 0))
	if err != nil {
		return
	}
	defer func() {
		for _, evaluator := range evaluators {
			if cerr := evaluator.Close(ctx); cerr != nil {
				stderr.Warn().Err(cerr).Msgf("failed to close evaluator %s", evaluator.AgentID())
			}
		}
	}()

	// Run the sweep.
	orchestrator := runners.NewOrchestrator(testStore, cfg.Config, tests.TestConfig, evaluators, progress, logger)
	summaries, err := orchestrator.RunAll(ctx) // blocking call
	if err != nil {
		return
	}

	// Print and save the results.
	ok = !logResults(summaries, logFile)
	ok = ok && !saveResults(summaries, outputWriters)

	return
}

// startProgressSink returns the sink handed to the orchestrator together
// with a function that closes it and waits for the drain goroutine.
func startProgressSink() (runners.ProgressSink, func()) {
	if !isEnabled(showProgress) {
		return runners.NopSink{}, func() {}
	}
	sink := runners.NewChannelSink(progressEventBuffer)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for event := range sink.Events() {
			if event.Activity != nil {
				state := "started"
				if event.Ended {
					state = "finished"
				}
				fmt.Printf("[run %d] %s %s\n", event.RunID, event.Activity.DisplayName, state)
				continue
			}
			fmt.Printf("[run %d] %s\n", event.RunID, event.Message)
		}
	}()
	return sink, func() {
		sink.Close()
		wg.Wait()
	}
}

func toModelRecords(models []config.ModelConfig) []store.ModelRecord {
	records := make([]store.ModelRecord, 0, len(models))
	for _, model := range models {
		records = append(records, store.ModelRecord{
			ID:       model.Name,
			Provider: model.Provider,
			Endpoint: model.Endpoint,
			Enabled:  !model.Disabled,
		})
	}
	return records
}

func enabledFormatters() (enabled []formatters.Formatter) {
	if isEnabled(formatCSV) {
		enabled = append(enabled, csvFormatter)
	}
	return enabled
}

func isEnabled(value *bool) bool {
	return value != nil && *value
}

func getConfigDirectory(configFilePath string) (configDir string, err error) {
	// If the path is not absolute it will be joined with the current working directory.
	absConfigPath, err := filepath.Abs(configFilePath)
	if err != nil {
		return
	}
	return filepath.Dir(absConfigPath), nil
}

func getEnabledLogLevel() zerolog.Level {
	if isEnabled(debug) {
		return zerolog.TraceLevel
	} else if isEnabled(verbose) {
		return zerolog.DebugLevel
	}
	return zerolog.InfoLevel
}

func getFlagValueIfSet(value *string, defaultValue string) string {
	if (value != nil) && *value != unsetFlagValue {
		return *value
	}
	return defaultValue
}

func printHelp(out io.Writer) {
	flag.CommandLine.SetOutput(out)
	flag.Usage()
}

func printVersion(out io.Writer) {
	fmt.Fprintf(out, "%s %s\n", version.Name, version.GetVersion())
}

func createOutputFile(outputFilePath string, timeRef time.Time, append bool) (outputFile *os.File, outputPath string, err error) {
	if outputPath = config.CleanIfNotBlank(config.ResolveFileNamePattern(outputFilePath, timeRef)); config.IsNotBlank(outputPath) {
		if err = os.MkdirAll(filepath.Dir(outputPath), os.ModePerm); err != nil {
			return
		}
		if append {
			outputFile, err = os.OpenFile(outputPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		} else {
			outputFile, err = os.Create(outputPath)
		}
	}
	return
}

func logResults(summaries []runners.RunSummary, out io.Writer) (finishedWithErrors bool) {
	fmt.Fprintln(out)
	if err := summaryLogFormatter.Write(summaries, out); err != nil {
		stderr.Warn().Err(err).Msg("failed to log summary")
		finishedWithErrors = true
	}
	fmt.Fprintln(out)
	if err := logFormatter.Write(summaries, out); err != nil {
		stderr.Warn().Err(err).Msg("failed to log results")
		finishedWithErrors = true
	}
	fmt.Fprintln(out)
	return
}

func saveResults(summaries []runners.RunSummary, outputWriters map[formatters.Formatter]io.Writer) (finishedWithErrors bool) {
	for formatter, out := range outputWriters {
		if err := formatter.Write(summaries, out); err != nil {
			stderr.Warn().Err(err).Msgf("failed to write %s output", strings.ToUpper(formatter.FileExt()))
			finishedWithErrors = true
		}
	}
	return
}
