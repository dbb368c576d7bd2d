// Package main provides the entry point for the musicatri console
// client: browser-assisted login, realtime namespace connections with
// session supervision, and a development stub of the backend surface.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/skratchdot/open-golang/open"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/musicatri/console/internal/buildinfo"
	"github.com/musicatri/console/internal/config"
	"github.com/musicatri/console/internal/logging"
	"github.com/musicatri/console/internal/session"
	"github.com/musicatri/console/internal/settings"
	"github.com/musicatri/console/internal/socket"
	"github.com/musicatri/console/internal/store"
	"github.com/musicatri/console/internal/stubserver"
	"github.com/musicatri/console/internal/watcher"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

func main() {
	fmt.Printf("musicatri console Version: %s, Commit: %s, BuiltAt: %s\n", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)

	var (
		configPath string
		login      bool
		logout     bool
		noBrowser  bool
		namespace  string
		stub       bool
		stubAddr   string
	)
	flag.StringVar(&configPath, "config", "", "Configuration file path")
	flag.BoolVar(&login, "login", false, "Run the OAuth login flow")
	flag.BoolVar(&logout, "logout", false, "Revoke the current session")
	flag.BoolVar(&noBrowser, "no-browser", false, "Don't open the browser automatically for OAuth")
	flag.StringVar(&namespace, "connect", "", "Connect to a socket namespace (user or admin)")
	flag.BoolVar(&stub, "stub", false, "Run the development backend stub")
	flag.StringVar(&stubAddr, "stub-addr", ":5000", "Listen address for the backend stub")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warnf("load .env: %v", err)
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	if cfg.LoggingToFile {
		logging.EnableFileOutput(cfg.LogFile)
	}

	if stub {
		if err = runStub(stubAddr); err != nil && !errors.Is(err, context.Canceled) {
			log.Fatalf("stub server: %v", err)
		}
		return
	}

	sets, err := settings.Open(cfg.SettingsFile)
	if err != nil {
		log.Fatalf("open settings: %v", err)
	}
	coordinator := session.NewCoordinator(session.Options{
		APIBase:        cfg.APIEndpoint,
		RequestTimeout: cfg.RequestTimeout(),
		Settings:       sets,
	})

	switch {
	case login:
		runLogin(coordinator, noBrowser)
	case logout:
		res := coordinator.Logout(context.Background())
		fmt.Printf("logout: %s\n", res)
	case namespace != "":
		if err = runConnect(cfg, configPath, coordinator, namespace); err != nil && !errors.Is(err, context.Canceled) {
			log.Fatalf("connect: %v", err)
		}
	default:
		runStatus(coordinator)
	}
}

// runLogin walks the OAuth flow: fetch the authorize URL, hand it to
// the browser, then exchange the pasted code for a session.
func runLogin(coordinator *session.Coordinator, noBrowser bool) {
	ctx := context.Background()

	res := coordinator.AuthorizeURL(ctx)
	if !res.IsSuccess() {
		log.Fatalf("fetch authorize url: %s", res)
	}
	authURL := gjson.GetBytes(res.Data, "url").String()
	if authURL == "" {
		log.Fatal("authorize url missing from response")
	}

	if noBrowser {
		fmt.Printf("Visit the following URL to continue authentication:\n%s\n", authURL)
	} else if err := open.Run(authURL); err != nil {
		log.Warnf("failed to open browser automatically: %v", err)
		fmt.Printf("Visit the following URL to continue authentication:\n%s\n", authURL)
	}

	fmt.Print("Paste the authorization code: ")
	reader := bufio.NewReader(os.Stdin)
	code, err := reader.ReadString('\n')
	if err != nil {
		log.Fatalf("read code: %v", err)
	}

	res = coordinator.Authorize(ctx, strings.TrimSpace(code))
	if !res.IsSuccess() {
		log.Fatalf("authorize: %s", res)
	}
	fmt.Println("Login successful")
}

// runConnect connects a namespace machine, supervises the session with
// the health-check loop, and hot-reloads the config file until
// interrupted.
func runConnect(cfg *config.Config, configPath string, coordinator *session.Coordinator, namespace string) error {
	if namespace != "user" && namespace != "admin" {
		return fmt.Errorf("unknown namespace %q (want user or admin)", namespace)
	}

	machine := socket.NewMachine(socket.Options{
		Endpoint:          cfg.SocketEndpoint + "/" + namespace,
		ConnectTimeout:    cfg.SocketConnectTimeout(),
		DisconnectTimeout: cfg.SocketDisconnectTimeout(),
		Header: func() http.Header {
			return coordinator.Header()
		},
	})

	appStore := store.New()
	appStore.WatchMachine(namespace, machine)
	appStore.WatchSession(coordinator)
	coordinator.Guard(machine)
	coordinator.Bus().Subscribe(session.TopicSessionExpired, func(any) {
		log.Warn("session expired, please log in again")
	})
	machine.Bus().Subscribe(socket.TopicDisconnectForce, func(payload any) {
		log.Warnf("connection to %s closed by server: %v", namespace, payload)
	})

	res := machine.Connect()
	if !res.IsSuccess() {
		return fmt.Errorf("connect %s: %s", namespace, res)
	}
	log.Infof("connected to %s namespace", namespace)

	coordinator.BeginHealthCheck(cfg.HealthCheckInterval())
	defer coordinator.StopHealthCheck()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)
	if configPath != "" {
		configWatcher := watcher.New(configPath, func(next *config.Config) {
			if next.Debug {
				log.SetLevel(log.DebugLevel)
			} else {
				log.SetLevel(log.InfoLevel)
			}
		})
		group.Go(func() error { return configWatcher.Start(groupCtx) })
	}
	group.Go(func() error {
		<-groupCtx.Done()
		return groupCtx.Err()
	})

	err := group.Wait()
	if machine.State() == socket.StateConnected {
		if res = machine.Disconnect(); !res.IsSuccess() {
			log.Warnf("disconnect %s: %s", namespace, res)
		}
	}
	return err
}

// runStatus prints the non-strict and strict login checks.
func runStatus(coordinator *session.Coordinator) {
	fmt.Printf("cached login: %v\n", coordinator.CheckLogin())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res := coordinator.VerifyLogin(ctx)
	fmt.Printf("server login check: %s\n", res)
	if user := coordinator.CurrentUser(); user != nil {
		fmt.Printf("logged in as %s (roles: %s)\n", user.Name, strings.Join(user.Roles, ", "))
	}
}

// runStub serves the development backend until interrupted.
func runStub(addr string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gin.SetMode(gin.ReleaseMode)
	server := &http.Server{
		Addr:    addr,
		Handler: stubserver.New().Engine(),
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Infof("stub backend listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return group.Wait()
}
