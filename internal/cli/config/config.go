package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/stackvity/pdf-toolkit/pkg/batch"
	"github.com/stackvity/pdf-toolkit/pkg/pdfops"
)

const (
	EnvPrefix         = "PDFTOOLKIT"
	DefaultConfigName = "pdf-toolkit"
	// DotEnvFile is loaded from the working directory before the environment is read.
	DotEnvFile = ".env"
	// DefaultMergeName is used when merge.output is not set.
	DefaultMergeName = "merged.pdf"
)

// Operation names, one per subcommand.
const (
	OpCompress = "compress"
	OpMerge    = "merge"
	OpSplit    = "split"
	OpOCR      = "ocr"
)

// MergeConfig holds the merge-only settings.
type MergeConfig struct {
	Output   string `mapstructure:"output"`
	Compress bool   `mapstructure:"compress"`
}

// SplitConfig holds the split-only settings.
type SplitConfig struct {
	Compress bool `mapstructure:"compress"`
}

// Options is the merged CLI configuration for one run.
type Options struct {
	// --- Paths ---
	Input  []string `mapstructure:"input"`
	Output string   `mapstructure:"output"` // Empty: outputs are written next to their inputs
	AltDir string   `mapstructure:"altDir"` // Preset alternate directory for unwritable outputs

	// --- Scheduling ---
	Concurrency int           `mapstructure:"concurrency"`
	Pacing      time.Duration `mapstructure:"pacing"`
	Watchdog    time.Duration `mapstructure:"watchdog"`

	// --- Behavior & Control ---
	OnConflict   batch.ConflictPolicy `mapstructure:"onConflict"`
	OutputFormat batch.OutputFormat   `mapstructure:"outputFormat"`
	TuiEnabled   bool                 `mapstructure:"tuiEnabled"`
	Verbose      bool                 `mapstructure:"verbose"`
	Resume       bool                 `mapstructure:"resume"`

	// --- Discovery ---
	Ignore   []string `mapstructure:"ignore"`
	GitSince string   `mapstructure:"gitSince"`

	// --- Operations ---
	Ghostscript string                 `mapstructure:"ghostscript"` // Ghostscript binary, empty disables the pass
	Compress    pdfops.CompressOptions `mapstructure:",squash"`
	OCR         pdfops.OCROptions      `mapstructure:"ocr"`
	Merge       MergeConfig            `mapstructure:"merge"`
	Split       SplitConfig            `mapstructure:"split"`

	// --- Post-run actions ---
	Open    bool   `mapstructure:"open"`
	Print   bool   `mapstructure:"print"`
	Printer string `mapstructure:"printer"`

	// --- Derived ---
	Operation      string       `mapstructure:"-"`
	ConfigFilePath string       `mapstructure:"-"`
	ProfileName    string       `mapstructure:"-"`
	Logger         slog.Handler `mapstructure:"-"`
}

// flagKeys maps command-line flag names to configuration keys. Flags that a
// command does not define are ignored.
var flagKeys = map[string]string{
	"concurrency":      "concurrency",
	"pacing":           "pacing",
	"watchdog":         "watchdog",
	"on-conflict":      "onConflict",
	"alt-dir":          "altDir",
	"output-format":    "outputFormat",
	"resume":           "resume",
	"ignore":           "ignore",
	"git-since":        "gitSince",
	"ghostscript":      "ghostscript",
	"level":            "level",
	"min-size-kb":      "minSizeKB",
	"delete-originals": "deleteOriginals",
	"language":         "ocr.language",
	"format":           "ocr.format",
	"dpi":              "ocr.dpi",
	"merge-output":     "merge.output",
	"open":             "open",
	"print":            "print",
	"printer":          "printer",
}

// compressFlagKeys binds the shared --compress flag per operation.
var compressFlagKeys = map[string]string{
	OpMerge: "merge.compress",
	OpSplit: "split.compress",
}

// LoadAndValidate loads configuration from all sources (defaults, file,
// profile, .env, environment, flags), validates it for operation and sets up
// the logger.
func LoadAndValidate(cfgFile, profileName, operation string, verbose bool, flags *pflag.FlagSet) (Options, *slog.Logger, error) {
	var opts Options
	v := viper.New()

	tempLogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(DefaultConfigName)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", DefaultConfigName))
			v.AddConfigPath(filepath.Join(home, "."+DefaultConfigName))
		} else {
			tempLogger.Warn("Could not determine home directory, skipping user config paths", slog.String("error", err.Error()))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return opts, tempLogger, fmt.Errorf("%w: failed to read config file: %w", batch.ErrConfigValidation, err)
		}
	} else {
		opts.ConfigFilePath = v.ConfigFileUsed()
	}

	if profileName != "" {
		profile := v.Sub("profiles." + profileName)
		if profile == nil {
			return opts, tempLogger, fmt.Errorf("%w: profile '%s' not found in configuration", batch.ErrConfigValidation, profileName)
		}
		if err := v.MergeConfigMap(profile.AllSettings()); err != nil {
			return opts, tempLogger, fmt.Errorf("%w: failed to merge profile '%s': %w", batch.ErrConfigValidation, profileName, err)
		}
		opts.ProfileName = profileName
	}

	if err := godotenv.Load(DotEnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		tempLogger.Warn("Could not load .env file", slog.String("error", err.Error()))
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for flagName, key := range flagKeys {
			if err := bindFlag(v, flags, key, flagName); err != nil {
				return opts, tempLogger, err
			}
		}
		if key, ok := compressFlagKeys[operation]; ok {
			if err := bindFlag(v, flags, key, "compress"); err != nil {
				return opts, tempLogger, err
			}
		}
	}

	if err := v.Unmarshal(&opts); err != nil {
		return opts, tempLogger, fmt.Errorf("%w: failed to decode configuration: %w", batch.ErrConfigValidation, err)
	}
	opts.Operation = operation
	opts.Verbose = opts.Verbose || verbose

	// Input and output are persistent flags; a set flag replaces the configured
	// value rather than merging with it.
	if flags != nil {
		if flags.Changed("input") {
			opts.Input, _ = flags.GetStringSlice("input")
		}
		if flags.Changed("output") {
			opts.Output, _ = flags.GetString("output")
		}
		if flags.Changed("no-tui") {
			if noTui, _ := flags.GetBool("no-tui"); noTui {
				opts.TuiEnabled = false
			}
		}
	}

	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	logHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(logHandler)
	opts.Logger = logHandler

	if err := validateAndDeriveOptions(&opts, logger); err != nil {
		return opts, logger, err
	}

	logger.Debug("Configuration loading and validation complete",
		slog.String("configFile", opts.ConfigFilePath),
		slog.String("profile", opts.ProfileName),
		slog.String("operation", opts.Operation),
		slog.String("logLevel", logLevel.String()),
	)
	return opts, logger, nil
}

func bindFlag(v *viper.Viper, flags *pflag.FlagSet, key, flagName string) error {
	flag := flags.Lookup(flagName)
	if flag == nil {
		return nil
	}
	if err := v.BindPFlag(key, flag); err != nil {
		return fmt.Errorf("%w: failed to bind flag --%s: %w", batch.ErrConfigValidation, flagName, err)
	}
	return nil
}

// setDefaults establishes the default values for configuration options in Viper.
func setDefaults(v *viper.Viper) {
	// --- Paths ---
	v.SetDefault("input", []string{})
	v.SetDefault("output", "")
	v.SetDefault("altDir", "")

	// --- Scheduling ---
	v.SetDefault("concurrency", batch.DefaultConcurrency)
	v.SetDefault("pacing", batch.DefaultPacing.String())
	v.SetDefault("watchdog", batch.DefaultWatchdogTimeout.String())

	// --- Behavior & Control ---
	v.SetDefault("onConflict", string(batch.DefaultConflictPolicy))
	v.SetDefault("outputFormat", string(batch.DefaultOutputFormat))
	v.SetDefault("tuiEnabled", true)
	v.SetDefault("verbose", false)
	v.SetDefault("resume", false)

	// --- Discovery ---
	v.SetDefault("ignore", []string{})
	v.SetDefault("gitSince", "")

	// --- Operations ---
	v.SetDefault("ghostscript", pdfops.DefaultGhostscript)
	v.SetDefault("level", string(pdfops.DefaultLevel))
	v.SetDefault("minSizeKB", 0)
	v.SetDefault("deleteOriginals", false)
	v.SetDefault("ocr.language", pdfops.DefaultOCRLanguage)
	v.SetDefault("ocr.format", pdfops.DefaultOCRFormat)
	v.SetDefault("ocr.dpi", pdfops.DefaultOCRDPI)
	v.SetDefault("ocr.rasterizer", pdfops.DefaultRasterizer)
	v.SetDefault("merge.output", "")
	v.SetDefault("merge.compress", false)
	v.SetDefault("split.compress", false)

	// --- Post-run actions ---
	v.SetDefault("open", false)
	v.SetDefault("print", false)
	v.SetDefault("printer", "")
}

// isValidEnumValue checks if a given string value is present in a slice of allowed enum values.
func isValidEnumValue[T ~string](value T, allowedValues []T) bool {
	return slices.Contains(allowedValues, value)
}

// validateAndDeriveOptions performs semantic validation on opts and resolves
// paths to absolute form. Errors wrap batch.ErrConfigValidation.
func validateAndDeriveOptions(opts *Options, logger *slog.Logger) error {
	fail := func(key string, format string, args ...any) error {
		err := fmt.Errorf("%w: "+format, append([]any{batch.ErrConfigValidation}, args...)...)
		logger.Error(err.Error(), slog.String("key", key))
		return err
	}

	allowedOps := []string{OpCompress, OpMerge, OpSplit, OpOCR}
	if !isValidEnumValue(opts.Operation, allowedOps) {
		return fail("operation", "unknown operation '%s'. Allowed: %v", opts.Operation, allowedOps)
	}

	// === Paths ===
	inputs := make([]string, 0, len(opts.Input))
	for _, in := range opts.Input {
		if strings.TrimSpace(in) == "" {
			continue
		}
		abs, err := filepath.Abs(in)
		if err != nil {
			return fail("input", "cannot resolve absolute input path '%s': %w", in, err)
		}
		if _, err := os.Stat(abs); err != nil {
			if os.IsNotExist(err) {
				return fail("input", "input path '%s' does not exist", in)
			}
			return fail("input", "cannot access input path '%s': %w", in, err)
		}
		inputs = append(inputs, abs)
	}
	if len(inputs) == 0 {
		return fail("input", "at least one input path is required (-i, --input)")
	}
	opts.Input = inputs

	if opts.Output != "" {
		abs, err := filepath.Abs(opts.Output)
		if err != nil {
			return fail("output", "cannot resolve absolute output path '%s': %w", opts.Output, err)
		}
		if info, err := os.Stat(abs); err == nil && !info.IsDir() {
			return fail("output", "output path '%s' is not a directory", opts.Output)
		}
		opts.Output = abs
	}
	if opts.AltDir != "" {
		abs, err := filepath.Abs(opts.AltDir)
		if err != nil {
			return fail("altDir", "cannot resolve absolute path '%s': %w", opts.AltDir, err)
		}
		opts.AltDir = abs
	}

	// === Enum String Validations ===
	allowedConflict := []batch.ConflictPolicy{batch.PolicyAsk, batch.PolicyOverwrite, batch.PolicySkip, batch.PolicyAbort}
	if !isValidEnumValue(opts.OnConflict, allowedConflict) {
		return fail("onConflict", "invalid value '%s' for key 'onConflict' (flag --on-conflict). Allowed: %v", opts.OnConflict, allowedConflict)
	}
	allowedOutputFormat := []batch.OutputFormat{batch.OutputFormatText, batch.OutputFormatJSON}
	if !isValidEnumValue(opts.OutputFormat, allowedOutputFormat) {
		return fail("outputFormat", "invalid value '%s' for key 'outputFormat' (flag --output-format). Allowed: %v", opts.OutputFormat, allowedOutputFormat)
	}
	level, err := pdfops.ParseLevel(string(opts.Compress.Level))
	if err != nil {
		return fail("level", "invalid value '%s' for key 'level' (flag --level): %w", opts.Compress.Level, err)
	}
	opts.Compress.Level = level

	// === Numeric Range Validations ===
	if opts.Concurrency < 0 {
		return fail("concurrency", "invalid value '%d' for key 'concurrency' (flag --concurrency). Must be >= 0", opts.Concurrency)
	}
	if opts.Pacing < 0 {
		return fail("pacing", "invalid value '%s' for key 'pacing'. Must be >= 0", opts.Pacing)
	}
	if opts.Watchdog <= 0 {
		return fail("watchdog", "invalid value '%s' for key 'watchdog'. Must be > 0", opts.Watchdog)
	}
	if opts.Compress.MinSizeKB < 0 {
		return fail("minSizeKB", "invalid value '%d' for key 'minSizeKB'. Must be >= 0", opts.Compress.MinSizeKB)
	}

	// === Operation specific ===
	switch opts.Operation {
	case OpOCR:
		ocr, err := pdfops.ValidateOCROptions(opts.OCR)
		if err != nil {
			logger.Error(err.Error(), slog.String("key", "ocr"))
			return err
		}
		opts.OCR = ocr
	case OpMerge:
		if err := deriveMergeOutput(opts); err != nil {
			return fail("merge.output", "%w", err)
		}
	}
	if opts.Operation != OpCompress && opts.Compress.DeleteOriginals {
		logger.Warn("deleteOriginals only applies to compress, ignoring", slog.String("operation", opts.Operation))
		opts.Compress.DeleteOriginals = false
	}
	if opts.Printer != "" && !opts.Print {
		logger.Debug("Printer set without print, ignoring", slog.String("printer", opts.Printer))
	}

	if opts.Verbose && opts.TuiEnabled {
		logger.Debug("Verbose mode enabled, TUI disabled")
		opts.TuiEnabled = false
	}

	logger.Debug("Final derived settings validated",
		slog.Int("inputs", len(opts.Input)),
		slog.String("output", opts.Output),
		slog.Int("concurrency", opts.Concurrency),
		slog.Duration("pacing", opts.Pacing),
		slog.String("onConflict", string(opts.OnConflict)),
		slog.Bool("tuiEnabledEffective", opts.TuiEnabled),
	)
	return nil
}

// deriveMergeOutput fills Merge.Output from the output directory, or the
// directory of the first input, when it is unset.
func deriveMergeOutput(opts *Options) error {
	target := opts.Merge.Output
	if target == "" {
		dir := opts.Output
		if dir == "" {
			dir = opts.Input[0]
			if info, err := os.Stat(dir); err == nil && !info.IsDir() {
				dir = filepath.Dir(dir)
			}
		}
		target = filepath.Join(dir, DefaultMergeName)
	}
	if !strings.EqualFold(filepath.Ext(target), ".pdf") {
		return fmt.Errorf("merge output '%s' must end in .pdf", target)
	}
	abs, err := filepath.Abs(target)
	if err != nil {
		return fmt.Errorf("cannot resolve absolute merge output '%s': %w", target, err)
	}
	opts.Merge.Output = abs
	return nil
}
