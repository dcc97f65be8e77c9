package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"os/user"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"
)

func defaultSocket() (string, error) {
	currentUser, err := user.Current()
	if err != nil {
		return "", err
	}
	var socketDir string
	if currentUser.Name != "root" {
		uid := currentUser.Uid
		socketDir = filepath.Join("/run/user", uid, "crucible")
	} else {
		socketDir = filepath.Join("/run/crucible")
	}
	err = os.MkdirAll(socketDir, 0o700)
	if err != nil {
		return "", err
	}
	socketPath := filepath.Join(socketDir, "crucible.sock")

	return socketPath, nil
}

func resolveSocket(cCtx *cli.Command) (string, error) {
	if cCtx.String("socket") != "" {
		return cCtx.String("socket"), nil
	}
	return defaultSocket()
}

func agentCommand(ctx context.Context, socket, name, data string) error {
	conn, err := net.Dial("unix", socket)
	if err != nil {
		return err
	}
	defer func() {
		err := conn.Close()
		if err != nil {
			log.Warn("error closing command socket", "error", err)
		}
	}()

	cmd := SocketMessage{
		Name: name,
		Data: data,
	}

	if err := json.NewEncoder(conn).Encode(cmd); err != nil {
		return err
	}

	raw, err := io.ReadAll(conn)
	if err != nil {
		return err
	}
	var resp SocketMessage
	if err := json.Unmarshal(raw, &resp); err != nil {
		return err
	}
	if resp.Name == "error" {
		return fmt.Errorf("server error: %v", resp.Data)
	}
	fmt.Println(resp.Data)
	return nil
}
