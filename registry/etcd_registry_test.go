package registry

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

// etcdEndpoints returns the endpoints from ETCD_ENDPOINTS or skips the test.
func etcdEndpoints(t *testing.T) []string {
	t.Helper()
	v := os.Getenv("ETCD_ENDPOINTS")
	if v == "" {
		t.Skip("ETCD_ENDPOINTS not set")
	}
	return strings.Split(v, ",")
}

func TestRegisterAndDiscover(t *testing.T) {
	reg, err := NewEtcdRegistry(etcdEndpoints(t), WithPrefix("/envelope-rpc-test/"))
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	inst1 := ServiceInstance{Addr: "127.0.0.1:8001", Weight: 10, Version: "1.0"}
	inst2 := ServiceInstance{Addr: "127.0.0.1:8002", Weight: 5, Version: "1.0"}

	if err := reg.Register(ctx, "Tracker", inst1, 10); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(ctx, "Tracker", inst2, 10); err != nil {
		t.Fatal(err)
	}

	instances, err := reg.Discover(ctx, "Tracker")
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 2 {
		t.Fatalf("expect 2 instances, got %d", len(instances))
	}

	if err := reg.Deregister(ctx, "Tracker", inst1.Addr); err != nil {
		t.Fatal(err)
	}

	instances, err = reg.Discover(ctx, "Tracker")
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 1 || instances[0].Addr != inst2.Addr {
		t.Fatalf("expect only %s after deregister, got %v", inst2.Addr, instances)
	}

	reg.Deregister(ctx, "Tracker", inst2.Addr)
}
