package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuemby/someip-core/pkg/endpoint/admin"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Dump the live registry and subscription state of a running routing manager",
	RunE:  runInspect,
}

func init() {
	inspectCmd.Flags().String("remote", "", "Admin gRPC address of a running someip-routingd serve instance (e.g. 127.0.0.1:9091)")
	inspectCmd.Flags().Duration("timeout", 5*time.Second, "Dial and call timeout")
}

// runInspect only supports --remote: a routing manager's registry and
// subscription state live in its own process's memory, not on disk, so
// there is nothing to inspect without talking to a running instance over
// the admin RPC surface.
func runInspect(cmd *cobra.Command, _ []string) error {
	remote, _ := cmd.Flags().GetString("remote")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	if remote == "" {
		return fmt.Errorf("inspect requires --remote <admin-addr>; there is no on-disk registry state to read directly")
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	conn, err := grpc.NewClient(remote, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dial admin endpoint %s: %w", remote, err)
	}
	defer conn.Close()

	client := admin.NewAdminServiceClient(conn)
	snap, err := client.Snapshot(ctx, &structpb.Struct{})
	if err != nil {
		return fmt.Errorf("snapshot %s: %w", remote, err)
	}

	out, err := json.MarshalIndent(snap.AsMap(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
