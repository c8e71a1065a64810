package grpcapi

import (
	"context"
	"net"
	"path/filepath"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/blockvault/walletd/internal/blockindex"
	"github.com/blockvault/walletd/internal/chainmodel"
	"github.com/blockvault/walletd/internal/chainstore"
	"github.com/blockvault/walletd/internal/grpcapi/pb"
	"github.com/blockvault/walletd/internal/kvstore"
	"github.com/blockvault/walletd/internal/mempool"
	"github.com/blockvault/walletd/internal/scrfilter"
	"github.com/blockvault/walletd/internal/viewer"
)

func newTestViewer(t *testing.T) *viewer.Viewer {
	t.Helper()
	kv, err := kvstore.Open(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatalf("kvstore.Open: %v", err)
	}
	t.Cleanup(func() { _ = kv.Close() })
	wb := kv.NewWriteBatch(1 << 20)
	chain := chainstore.New(kv, wb, chainmodel.Hash{0xde, 0xad})
	filter := scrfilter.New(kv, wb)
	noResolve := func(chainmodel.Hash, uint32) ([]byte, int64, bool) { return nil, 0, false }
	pool := mempool.New(noResolve)
	index := blockindex.New(kv, wb, chain, filter)
	return viewer.New(chain, kv, filter, pool, index)
}

func dialTestServer(t *testing.T, v *viewer.Viewer) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)

	srv := grpc.NewServer()
	pb.RegisterWalletdServiceServer(srv, NewService(v))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.DialContext(context.Background(), "bufconn",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("grpc.DialContext: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func TestGetInfoReturnsChainTip(t *testing.T) {
	v := newTestViewer(t)
	conn := dialTestServer(t, v)

	resp := &pb.InfoResponse{}
	if err := conn.Invoke(context.Background(), "/walletd.v1.WalletdService/GetInfo", &pb.Empty{}, resp); err != nil {
		t.Fatalf("GetInfo: %v", err)
	}
	if resp.Height != 0 {
		t.Fatalf("expected genesis-only height 0, got %d", resp.Height)
	}
}

func TestToProtoNotificationMapsKindAndHash(t *testing.T) {
	v := newTestViewer(t)
	if _, err := v.Chain.AddBlock(chainmodel.Hash{0xde, 0xad}, &chainstore.Header{}); err != nil {
		t.Fatalf("AddBlock: %v", err)
	}
	if _, err := v.Chain.Organize(); err != nil {
		t.Fatalf("Organize: %v", err)
	}

	n := viewer.Notification{Kind: viewer.KindNewBlockReorg, CurrentTop: 5, PrevTop: 3, BranchPoint: 2}
	msg := toProtoNotification(v, n)

	if msg.Kind != pb.NotificationKindNewBlockReorg {
		t.Fatalf("expected reorg kind, got %v", msg.Kind)
	}
	if msg.CurrentTop != 5 || msg.PrevTop != 3 || msg.BranchPoint != 2 {
		t.Fatalf("unexpected field mapping: %+v", msg)
	}
	if len(msg.CurrentTopHash) == 0 {
		t.Fatalf("expected current tip hash to be populated from chain store")
	}
}
