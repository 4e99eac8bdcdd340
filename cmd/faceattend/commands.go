package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/MrCodeEU/faceattend/pkg/assets"
	"github.com/MrCodeEU/faceattend/pkg/attendance"
	"github.com/MrCodeEU/faceattend/pkg/auth"
	"github.com/MrCodeEU/faceattend/pkg/capture"
	"github.com/MrCodeEU/faceattend/pkg/logging"
	"github.com/MrCodeEU/faceattend/pkg/server"
)

var errNotRecognized = errors.New("face not recognized")

func cmdServe(args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	users, err := a.gallery.Count(ctx)
	if err != nil {
		return err
	}
	records, err := a.ledger.Count(ctx)
	if err != nil {
		return err
	}
	logging.WithFields(logging.Fields{
		"database":  a.db.Path(),
		"extractor": a.extractor.Name(),
		"threshold": a.service.Threshold(),
		"users":     users,
		"records":   records,
	}).Info("Attendance store ready")

	srv := server.New(cfg.Server, a.service, a.sessions, a.metrics, a.checks...)
	return srv.Run(ctx)
}

func cmdRegister(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: %s", commands["register"].Usage)
	}
	name := args[0]

	ctx := context.Background()
	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	sess, err := a.login(ctx)
	if err != nil {
		return err
	}

	frame, err := captureFrame(ctx, args[1])
	if err != nil {
		return err
	}

	user, err := a.service.Register(ctx, sess, name, frame.Data)
	if err != nil {
		return err
	}

	fmt.Printf("User registered successfully (id %d, name %q)\n", user.ID, user.Name)
	return nil
}

func cmdMark(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: %s", commands["mark"].Usage)
	}

	ctx := context.Background()
	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	sess, err := a.login(ctx)
	if err != nil {
		return err
	}

	frame, err := captureFrame(ctx, args[0])
	if err != nil {
		return err
	}

	result, err := a.service.MarkAttendance(ctx, sess, frame.Data)
	if err != nil {
		return err
	}

	fmt.Println(result.Message())
	if !result.Recognized {
		return errNotRecognized
	}
	fmt.Printf("  Record:     %d\n", result.RecordID)
	fmt.Printf("  Timestamp:  %s\n", result.Timestamp)
	fmt.Printf("  Similarity: %.4f\n", result.Similarity)
	return nil
}

func cmdRecords(args []string) error {
	ctx := context.Background()
	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	sess, err := a.login(ctx)
	if err != nil {
		return err
	}

	records, err := a.service.Records(ctx, sess)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println(attendance.MessageNoRecords)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTIMESTAMP")
	for _, r := range records {
		fmt.Fprintf(w, "%d\t%s\t%s\n", r.ID, r.Name, r.Timestamp)
	}
	return w.Flush()
}

func cmdUsers(args []string) error {
	ctx := context.Background()
	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	sess, err := a.login(ctx)
	if err != nil {
		return err
	}

	users, err := a.service.Users(ctx, sess)
	if err != nil {
		return err
	}
	if len(users) == 0 {
		fmt.Println("No users registered")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tIMAGE")
	for _, u := range users {
		fmt.Fprintf(w, "%d\t%s\t%s\n", u.ID, u.Name, u.ImagePath)
	}
	return w.Flush()
}

func cmdHashPassword(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: %s", commands["hash-password"].Usage)
	}

	password := args[0]
	if password == "-" {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("failed to read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}

// captureFrame grabs a single frame from a file, stdin or a webcam.
func captureFrame(ctx context.Context, target string) (*capture.Frame, error) {
	src, err := capture.Open(target, os.Stdin)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	frame, err := src.Capture(ctx)
	if err != nil {
		return nil, err
	}
	logging.Debugf("Captured %d bytes of %s from %s", len(frame.Data), frame.Format, frame.Source)
	return frame, nil
}

func cmdConfig(args []string) error {
	fmt.Println("Current Configuration:")
	fmt.Println("======================")
	fmt.Println()
	fmt.Println("[Recognition]")
	fmt.Printf("  Extractor:       %s\n", cfg.Recognition.Extractor)
	fmt.Printf("  Threshold:       %.2f\n", cfg.Recognition.SimilarityThreshold)
	fmt.Printf("  Model Path:      %s\n", cfg.Recognition.ModelPath)
	fmt.Printf("  Cascade File:    %s\n", cfg.Recognition.CascadeFile)
	fmt.Printf("  Download:        %t\n", cfg.Recognition.DownloadModels)
	missing := assets.Missing(cfg.Recognition.ModelPath, assets.DlibAssets())
	missing = append(missing, assets.Missing(filepath.Dir(cfg.Recognition.CascadeFile),
		[]assets.Asset{assets.CascadeAsset(cfg.Recognition.CascadeFile, cfg.Recognition.CascadeURL)})...)
	for _, a := range missing {
		fmt.Printf("  Missing model:   %s\n", a.Name)
	}
	fmt.Println()
	fmt.Println("[Storage]")
	fmt.Printf("  Database:        %s\n", cfg.Storage.Database)
	fmt.Printf("  Images Dir:      %s\n", cfg.Storage.ImagesDir)
	fmt.Printf("  Encryption:      %t\n", cfg.Storage.EncryptionEnabled)
	fmt.Println()
	fmt.Println("[Authentication]")
	fmt.Printf("  Admin User:      %s\n", cfg.Auth.AdminUsername)
	fmt.Printf("  Password Hash:   %t\n", cfg.Auth.AdminPasswordHash != "")
	fmt.Printf("  Session TTL:     %s\n", cfg.Auth.SessionTTL)
	fmt.Printf("  Session Backend: %s\n", cfg.Auth.SessionBackend)
	if cfg.Auth.SessionBackend == "redis" {
		fmt.Printf("  Redis:           %s\n", cfg.Auth.RedisAddr)
	}
	fmt.Println()
	fmt.Println("[Server]")
	fmt.Printf("  Address:         %s\n", cfg.Server.Address)
	fmt.Printf("  Mode:            %s\n", cfg.Server.Mode)
	fmt.Printf("  Rate Limit:      %d/min\n", cfg.Server.RateLimitPerMin)
	fmt.Printf("  Origins:         %s\n", strings.Join(cfg.Server.AllowedOrigins, ", "))
	fmt.Printf("  Max Upload:      %d MB\n", cfg.Server.MaxUploadMB)
	fmt.Println()
	fmt.Println("[Logging]")
	fmt.Printf("  Level:           %s\n", cfg.Logging.Level)
	fmt.Printf("  File:            %s\n", cfg.Logging.File)
	fmt.Printf("  Format:          %s\n", cfg.Logging.Format)
	fmt.Println()
	fmt.Println("[Metrics]")
	fmt.Printf("  Enabled:         %t\n", cfg.Metrics.Enabled)

	return nil
}

func cmdVersion(args []string) error {
	fmt.Printf("faceattend v%s\n", version)
	fmt.Println("Face Recognition Attendance")
	fmt.Println()
	fmt.Println("Build Information:")
	fmt.Printf("  Go version: %s\n", runtime.Version())
	fmt.Printf("  Platform:   %s/%s\n", runtime.GOOS, runtime.GOARCH)
	return nil
}

func cmdHelp(args []string) error {
	if len(args) == 0 {
		printUsage()
		return nil
	}

	cmdName := args[0]
	cmd, ok := commands[cmdName]
	if !ok {
		return fmt.Errorf("unknown command: %s", cmdName)
	}

	fmt.Printf("Command: %s\n", cmd.Name)
	fmt.Printf("Description: %s\n", cmd.Description)
	fmt.Printf("Usage: %s\n", cmd.Usage)
	if cmd.Gated {
		fmt.Println("\nRequires admin credentials (-user/-password or FACEATTEND_ADMIN_USER/FACEATTEND_ADMIN_PASSWORD).")
	}

	switch cmdName {
	case "register", "mark":
		fmt.Println("\nImage Sources:")
		fmt.Println("  <file>     A JPEG or PNG file")
		fmt.Println("  -          Read the image from stdin")
		fmt.Println("  camera:N   Grab one frame from webcam N")
	case "serve":
		fmt.Println("\nEndpoints:")
		fmt.Println("  POST /login        Obtain a bearer token")
		fmt.Println("  POST /logout       End the session")
		fmt.Println("  POST /register     Multipart: name, image")
		fmt.Println("  POST /attendance   Multipart: image")
		fmt.Println("  GET  /records      Attendance records")
		fmt.Println("  GET  /users        Registered users")
		fmt.Println("  GET  /users/:id/image  Stored face image")
		fmt.Println("  GET  /healthz      Health checks")
		fmt.Println("  GET  /metrics      Prometheus metrics (when enabled)")
	case "config":
		fmt.Println("\nConfiguration Locations:")
		fmt.Println("  System: /etc/faceattend/faceattend.yaml")
		fmt.Println("  User:   ~/.config/faceattend/faceattend.yaml")
		fmt.Println("\nUse -config flag to specify a custom config file.")
	}

	return nil
}
