package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/MrCodeEU/faceattend/pkg/config"
	"github.com/MrCodeEU/faceattend/pkg/logging"
)

const version = "0.2.0"

// Command represents a CLI command.
type Command struct {
	Name        string
	Description string
	Usage       string
	Gated       bool
	Run         func(args []string) error
}

var (
	cfg      *config.Config
	commands map[string]*Command

	loginUser     string
	loginPassword string
)

// commandOrder is the order commands appear in usage output.
var commandOrder = []string{
	"serve", "register", "mark", "records", "users",
	"download-models", "hash-password", "config", "version", "help",
}

func init() {
	commands = map[string]*Command{
		"serve": {
			Name:        "serve",
			Description: "Run the HTTP API",
			Usage:       "faceattend serve",
			Run:         cmdServe,
		},
		"register": {
			Name:        "register",
			Description: "Register a user from a face image",
			Usage:       "faceattend register <name> <image|-|camera:N>",
			Gated:       true,
			Run:         cmdRegister,
		},
		"mark": {
			Name:        "mark",
			Description: "Recognize a face and mark attendance",
			Usage:       "faceattend mark <image|-|camera:N>",
			Gated:       true,
			Run:         cmdMark,
		},
		"records": {
			Name:        "records",
			Description: "Show attendance records",
			Usage:       "faceattend records",
			Gated:       true,
			Run:         cmdRecords,
		},
		"users": {
			Name:        "users",
			Description: "List registered users",
			Usage:       "faceattend users",
			Gated:       true,
			Run:         cmdUsers,
		},
		"download-models": {
			Name:        "download-models",
			Description: "Download face detection models",
			Usage:       "faceattend download-models [dir]",
			Run:         cmdDownloadModels,
		},
		"hash-password": {
			Name:        "hash-password",
			Description: "Print a bcrypt hash for auth.admin_password_hash",
			Usage:       "faceattend hash-password <password|->",
			Run:         cmdHashPassword,
		},
		"config": {
			Name:        "config",
			Description: "Show current configuration",
			Usage:       "faceattend config",
			Run:         cmdConfig,
		},
		"version": {
			Name:        "version",
			Description: "Show version information",
			Usage:       "faceattend version",
			Run:         cmdVersion,
		},
		"help": {
			Name:        "help",
			Description: "Show help information",
			Usage:       "faceattend help [command]",
			Run:         cmdHelp,
		},
	}
}

func main() {
	// Parse global flags
	configFile := flag.String("config", "", "Path to configuration file")
	envFile := flag.String("env", ".env", "Path to a .env file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.StringVar(&loginUser, "user", "", "Admin username for gated commands")
	flag.StringVar(&loginPassword, "password", "", "Admin password for gated commands")
	flag.Parse()

	args := flag.Args()

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not load %s: %v\n", *envFile, err)
	}

	// Load configuration
	var err error
	if *configFile != "" {
		cfg, err = config.Load(*configFile)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not load config: %v\n", err)
		cfg = config.DefaultConfig()
	}
	cfg.ApplyEnv()
	cfg.ExpandPaths()

	// Initialize logging
	logLevel := cfg.Logging.Level
	if *debug {
		logLevel = "debug"
	}
	if err := logging.Init(logLevel, cfg.Logging.File); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not initialize file logging: %v\n", err)
	}
	logging.SetFormat(cfg.Logging.Format)

	logging.Debugf("faceattend v%s starting", version)
	logging.Debugf("Config loaded, database: %s", cfg.Storage.Database)

	if len(args) < 1 {
		printUsage()
		os.Exit(0)
	}

	cmdName := args[0]
	cmd, ok := commands[cmdName]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmdName)
		printUsage()
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil && cmdName != "help" && cmdName != "version" && cmdName != "config" {
		fmt.Fprintf(os.Stderr, "Error: invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cmd.Run(args[1:]); err != nil {
		logging.WithError(err).Errorf("Command '%s' failed", cmdName)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("faceattend - Face Recognition Attendance")
	fmt.Printf("Version: %s\n\n", version)
	fmt.Println("Usage: faceattend [options] <command> [arguments]")
	fmt.Println("\nOptions:")
	fmt.Println("  -config <file>     Path to configuration file")
	fmt.Println("  -env <file>        Path to a .env file (default .env)")
	fmt.Println("  -debug             Enable debug logging")
	fmt.Println("  -user <name>       Admin username (or FACEATTEND_ADMIN_USER)")
	fmt.Println("  -password <pass>   Admin password (or FACEATTEND_ADMIN_PASSWORD)")
	fmt.Println("\nCommands:")
	for _, name := range commandOrder {
		cmd := commands[name]
		fmt.Printf("  %-16s %s\n", cmd.Name, cmd.Description)
	}
	fmt.Println("\nExamples:")
	fmt.Println("  faceattend register alice alice.jpg   # Register 'alice'")
	fmt.Println("  faceattend mark camera:0              # Mark attendance from webcam 0")
	fmt.Println("  cat face.png | faceattend mark -      # Read the image from stdin")
	fmt.Println("\nRun 'faceattend help <command>' for more information on a command.")
}
