package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/invocationstore/irs/internal/blobstore"
	"github.com/invocationstore/irs/internal/shardwriter"
	"github.com/invocationstore/irs/internal/syncengine"
)

var (
	syncRemote string
	syncSince  string
	syncClient string
	syncTag    string
	syncBlobs  bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Replicate rows between this store and a remote store",
}

func buildEngine() (*syncengine.Engine, error) {
	writer := shardwriter.New(recentRootFor(storeRoot))
	blobs, err := blobstore.Open(storeRoot)
	if err != nil {
		return nil, err
	}
	local := syncengine.NewShardLocalStore(writer, blobs)
	transport := syncengine.NewFSTransport(syncRemote)
	return syncengine.New(storeRoot, local, transport, syncBlobs), nil
}

var syncPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Push local rows to the remote store",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := buildEngine()
		if err != nil {
			return err
		}
		results, err := engine.Push(rootCtx, syncengine.Selection{Since: syncSince, Client: syncClient, Tag: syncTag})
		if err != nil {
			return err
		}
		for _, r := range results {
			fmt.Printf("%s: pushed=%d err=%v\n", r.Relation, r.Applied, r.Err)
		}
		return nil
	},
}

var syncPullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Pull remote rows into the local store",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := buildEngine()
		if err != nil {
			return err
		}
		results, err := engine.Pull(rootCtx, syncengine.Selection{Since: syncSince, Client: syncClient, Tag: syncTag})
		if err != nil {
			return err
		}
		for _, r := range results {
			fmt.Printf("%s: applied=%d err=%v\n", r.Relation, r.Applied, r.Err)
		}
		return nil
	},
}

func init() {
	syncCmd.PersistentFlags().StringVar(&syncRemote, "remote", "", "Remote store root (shared filesystem path)")
	syncCmd.PersistentFlags().StringVar(&syncSince, "since", "", "RFC3339Nano lower bound on timestamp")
	syncCmd.PersistentFlags().StringVar(&syncClient, "client", "", "Filter by source_client")
	syncCmd.PersistentFlags().StringVar(&syncTag, "tag", "", "Filter by tag")
	syncCmd.PersistentFlags().BoolVar(&syncBlobs, "blobs", false, "Also transfer referenced blobs")
	syncCmd.MarkPersistentFlagRequired("remote")
	syncCmd.AddCommand(syncPushCmd, syncPullCmd)
}
