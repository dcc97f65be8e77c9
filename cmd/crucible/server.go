package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"os/user"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/knadh/koanf/v2"
	"ironworks.systems/crucible/internal/crucible"
	"ironworks.systems/crucible/internal/inventory"
)

type ServerConfig struct {
	SyncInterval, CapsuleInterval int
	Webhook                       string
	Socket                        string
}

type Server struct {
	Webhook                       string
	Socket                        string
	SyncInterval, CapsuleInterval int
	QuitOnError                   bool
	quit                          chan any
	engine                        *crucible.Crucible
}

func (c ServerConfig) Validate() error {
	return nil
}

func NewServerConfig(k *koanf.Koanf) (*ServerConfig, error) {
	var c ServerConfig
	c.SyncInterval = k.Int("server.sync_interval")
	c.CapsuleInterval = k.Int("server.capsule_interval")
	c.Webhook = k.String("server.webhook")
	c.Socket = k.String("server.socket")
	return &c, nil
}

func serverEngine(ctx context.Context, k *koanf.Koanf) (*crucible.Crucible, error) {
	c, err := crucible.NewConfig(k)
	if err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}
	err = c.Validate()
	if err != nil {
		return nil, fmt.Errorf("error validating config: %w", err)
	}
	setupLogger(c)
	return crucible.NewCrucible(ctx, c)
}

func RunServer(ctx context.Context, k *koanf.Koanf) error {
	ctx, serverClose := context.WithCancel(ctx)
	defer serverClose()
	log.Info("Starting server mode")
	conf, err := NewServerConfig(k)
	if err != nil {
		return err
	}
	if err := conf.Validate(); err != nil {
		return err
	}
	if conf.Webhook != "" {
		log.Infof("Starting up with webhook %v", conf.Webhook)
	}

	engine, err := serverEngine(ctx, k)
	if err != nil {
		return err
	}
	defer func() {
		_ = engine.Close()
	}()

	log.Info("Crucible instance created")
	serv := &Server{
		Webhook:         conf.Webhook,
		Socket:          conf.Socket,
		SyncInterval:    conf.SyncInterval,
		CapsuleInterval: conf.CapsuleInterval,
		quit:            make(chan any),
		engine:          engine,
	}
	socket, path, err := serv.setupSocket()
	if err != nil {
		return fmt.Errorf("error setting up socket: %w", err)
	}
	defer func() {
		_ = socket.Close()
	}()
	var wg sync.WaitGroup
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	go func() {
		<-c
		log.Info("trying to shutdown cleanly")
		_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
		serverClose()
		close(serv.quit)
		err = socket.Close()
		if err != nil {
			log.Warn("error closing socket", "error", err)
		}
	}()
	if conf.SyncInterval > 0 {
		wg.Add(1)
		go func() {
			log.Info("Starting background repository sync")
			defer wg.Done()
			err = serv.backgroundSync(ctx)
			if err != nil {
				log.Fatal(err)
			}
		}()
	} else {
		log.Info("skipping background sync since no timer is configured")
	}
	if conf.CapsuleInterval > 0 {
		wg.Add(1)
		go func() {
			log.Info("Starting background capsule sync")
			defer wg.Done()
			err = serv.backgroundCapsuleSync(ctx)
			if err != nil {
				log.Fatal(err)
			}
		}()
	} else {
		log.Info("skipping background capsule sync since no timer is configured")
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Infof("starting to listen on socket %v", path)
		err := serv.listenForCommands(socket)
		if err != nil {
			log.Fatal(err)
		}
	}()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	if err := serv.notify(ctx, "server started"); err != nil {
		return err
	}
	wg.Wait()

	return nil
}

// syncEverything runs a sync for every repository in every organization and
// reports failures without stopping early.
func (s *Server) syncEverything(ctx context.Context) (string, error) {
	var synced, skipped, failed int
	orgs, err := s.engine.Store.ListOrganizations(ctx)
	if err != nil {
		return "", err
	}
	for _, org := range orgs {
		products, err := s.engine.Store.ListProducts(ctx, org.ID)
		if err != nil {
			return "", err
		}
		for _, product := range products {
			results, err := s.engine.SyncProduct(ctx, org.Label, product.Label)
			if err != nil {
				return "", err
			}
			for _, task := range results {
				switch {
				case task.State == inventory.TaskError:
					failed++
					log.Warn("repository sync failed", "repo", task.Subject, "error", task.Result)
				case task.Skipped:
					skipped++
				default:
					synced++
				}
			}
		}
	}
	summary := fmt.Sprintf("%v synced, %v unchanged, %v failed", synced, skipped, failed)
	if failed > 0 {
		return summary, fmt.Errorf("%v repositories failed to sync", failed)
	}
	return summary, nil
}

func (s *Server) syncAllCapsules(ctx context.Context) (string, error) {
	capsules, err := s.engine.Store.ListCapsules(ctx)
	if err != nil {
		return "", err
	}
	var applied, failed int
	for _, caps := range capsules {
		task, err := s.engine.SyncCapsule(ctx, caps.Name)
		if err != nil {
			return "", err
		}
		if task.State == inventory.TaskError {
			failed++
			log.Warn("capsule sync failed", "capsule", caps.Name, "error", task.Result)
			continue
		}
		applied++
	}
	summary := fmt.Sprintf("%v capsules synced, %v failed", applied, failed)
	if failed > 0 {
		return summary, fmt.Errorf("%v capsules failed to sync", failed)
	}
	return summary, nil
}

func (s *Server) backgroundSync(ctx context.Context) error {
	log.Info("executing background sync")
	ticker := time.NewTicker(time.Duration(s.SyncInterval) * time.Second)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			summary, err := s.syncEverything(ctx)
			if err != nil {
				if nerr := s.notify(ctx, fmt.Sprintf("Repository sync failed: %v", err)); nerr != nil {
					return fmt.Errorf("repository sync failed %w; plus the notification failed: %w", err, nerr)
				}
				if s.QuitOnError {
					return err
				}
				break
			}
			log.Infof("Sync ran: %v", summary)
		}
	}
}

func (s *Server) backgroundCapsuleSync(ctx context.Context) error {
	log.Info("executing background capsule sync")
	ticker := time.NewTicker(time.Duration(s.CapsuleInterval) * time.Second)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			summary, err := s.syncAllCapsules(ctx)
			if err != nil {
				if nerr := s.notify(ctx, fmt.Sprintf("Capsule sync failed: %v", err)); nerr != nil {
					return fmt.Errorf("capsule sync failed %w; plus the notification failed: %w", err, nerr)
				}
				if s.QuitOnError {
					return err
				}
				break
			}
			log.Infof("Capsule sync ran: %v", summary)
		}
	}
}

type hookPayload struct {
	Text string `json:"text"`
}

func (s *Server) notify(ctx context.Context, msg string) error {
	if s.Webhook == "" {
		return nil
	}
	marshaledPayload, err := json.Marshal(hookPayload{msg})
	if err != nil {
		return fmt.Errorf("failed to marshal payload to JSON: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Webhook, bytes.NewBuffer(marshaledPayload))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	client := &http.Client{Timeout: 10 * time.Second}
	_, err = client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send HTTP request: %v", err)
	}
	return nil
}

func (s *Server) setupSocket() (net.Listener, string, error) {
	currentUser, err := user.Current()
	if err != nil {
		return nil, "", err
	}
	socketDir := ""
	socketPath := s.Socket
	if s.Socket == "" {
		if currentUser.Name != "root" {
			uid := currentUser.Uid
			socketDir = filepath.Join("/run/user", uid, "crucible")
		} else {
			socketDir = filepath.Join("/run/crucible")
		}
		err = os.MkdirAll(socketDir, 0o700)
		if err != nil {
			return nil, "", err
		}
		socketPath = filepath.Join(socketDir, "crucible.sock")
	}
	sock, err := net.Listen("unix", socketPath)
	return sock, socketPath, err
}

func (s *Server) listenForCommands(sock net.Listener) error {
	for {
		conn, err := sock.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return nil
			default:
				log.Fatal(err)
			}
		}

		go func() {
			log.Debug("parsing command")
			err := func(conn net.Conn) error {
				defer func() {
					err := conn.Close()
					if err != nil {
						log.Warn("err closing command socket ", "error", err)
					}
				}()

				var msg SocketMessage
				if err := json.NewDecoder(conn).Decode(&msg); err != nil {
					return err
				}

				resp, err := s.parseCommand(msg)
				if err != nil {
					return err
				}
				jsonBytes, err := json.Marshal(resp)
				if err != nil {
					return err
				}
				_, err = conn.Write(jsonBytes)
				if err != nil {
					return err
				}
				return nil
			}(conn)
			if err != nil {
				log.Warn(err)
			}
		}()
	}
}

func (s *Server) parseCommand(cmd SocketMessage) (SocketMessage, error) {
	ctx := context.Background()
	switch cmd.Name {
	case "reconcile":
		log.Info("reconciling manifest on request")
		if err := s.engine.Reconcile(ctx); err != nil {
			return errToMsg(err), nil
		}
		return SocketMessage{Name: "result", Data: "success"}, nil
	case "sync":
		log.Info("syncing all repositories on request")
		summary, err := s.syncEverything(ctx)
		if err != nil {
			return errToMsg(err), nil
		}
		return SocketMessage{Name: "result", Data: summary}, nil
	case "publish":
		org, view, ok := strings.Cut(cmd.Data, "/")
		if !ok {
			return errToMsg(fmt.Errorf("expected org/view, got %q", cmd.Data)), nil
		}
		log.Info("publishing on request", "org", org, "view", view)
		version, err := s.engine.Publish(ctx, org, view)
		if err != nil {
			return errToMsg(err), nil
		}
		return SocketMessage{Name: "result", Data: fmt.Sprintf("published %v version %v", view, version.Name())}, nil
	case "capsules":
		log.Info("syncing all capsules on request")
		summary, err := s.syncAllCapsules(ctx)
		if err != nil {
			return errToMsg(err), nil
		}
		return SocketMessage{Name: "result", Data: summary}, nil
	case "status":
		log.Info("reporting capsule status on request")
		capsules, err := s.engine.Store.ListCapsules(ctx)
		if err != nil {
			return errToMsg(err), nil
		}
		var lines []string
		for _, caps := range capsules {
			status, err := s.engine.GetCapsuleStatus(ctx, caps.Name)
			if err != nil {
				return errToMsg(err), nil
			}
			lines = append(lines, status.String())
		}
		if len(lines) == 0 {
			return SocketMessage{Name: "result", Data: "no capsules registered"}, nil
		}
		return SocketMessage{Name: "result", Data: strings.Join(lines, "\n")}, nil
	default:
		return SocketMessage{Name: "result", Data: "command not found"}, nil
	}
}
