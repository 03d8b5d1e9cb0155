package db

import (
	"errors"
	"strings"
	"testing"

	"github.com/zulandar/huddle/internal/config"
	"github.com/zulandar/huddle/internal/models"
	"gorm.io/gorm"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.DatabaseConfig
		want string
	}{
		{
			name: "sqlite path",
			cfg:  config.DatabaseConfig{Driver: "sqlite", Path: "huddle.db"},
			want: "huddle.db",
		},
		{
			name: "raw dsn wins",
			cfg:  config.DatabaseConfig{Driver: "mysql", DSN: "u:p@tcp(h:1)/d", Host: "ignored"},
			want: "u:p@tcp(h:1)/d",
		},
		{
			name: "mysql fields",
			cfg: config.DatabaseConfig{
				Driver: "mysql", Host: "10.0.0.5", Port: 3307,
				User: "huddle", Password: "pw", Name: "huddle_prod",
			},
			want: "huddle:pw@tcp(10.0.0.5:3307)/huddle_prod?parseTime=true",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DSN(tt.cfg)
			if got != tt.want {
				t.Errorf("DSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "oracle"})
	if err == nil {
		t.Fatal("expected error for unsupported driver")
	}
	if !strings.Contains(err.Error(), `db: unsupported driver "oracle"`) {
		t.Errorf("error = %q", err.Error())
	}
}

func openMemory(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := Open(config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb
}

func TestAllModels_Count(t *testing.T) {
	if got := len(AllModels()); got != 4 {
		t.Errorf("AllModels() returned %d models, want 4", got)
	}
}

func TestAutoMigrate_CreatesTables(t *testing.T) {
	gdb := openMemory(t)
	for _, m := range AllModels() {
		if !gdb.Migrator().HasTable(m) {
			t.Errorf("table for %T not created", m)
		}
	}
	if !gdb.Migrator().HasIndex(&models.Notification{}, "idx_message_user") {
		t.Error("notifications missing idx_message_user unique index")
	}
}

func TestOpen_TranslatesDuplicateKey(t *testing.T) {
	gdb := openMemory(t)
	u := models.User{ID: "u1", Username: "alice"}
	if err := gdb.Create(&u).Error; err != nil {
		t.Fatalf("create: %v", err)
	}
	dup := models.User{ID: "u2", Username: "alice"}
	err := gdb.Create(&dup).Error
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		t.Errorf("duplicate username error = %v, want gorm.ErrDuplicatedKey", err)
	}
}

func TestSeedUsers_Upserts(t *testing.T) {
	gdb := openMemory(t)
	if err := SeedUsers(gdb, []models.User{{ID: "u1", Username: "alice", Name: "Alice"}}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := SeedUsers(gdb, []models.User{{ID: "u1", Username: "alice", Name: "Alice A."}}); err != nil {
		t.Fatalf("reseed: %v", err)
	}
	var users []models.User
	gdb.Find(&users)
	if len(users) != 1 {
		t.Fatalf("len(users) = %d, want 1", len(users))
	}
	if users[0].Name != "Alice A." {
		t.Errorf("Name = %q, want updated %q", users[0].Name, "Alice A.")
	}
}

func TestSeedUsers_RequiresIDAndUsername(t *testing.T) {
	err := SeedUsers(nil, []models.User{{ID: "u1"}})
	if err == nil {
		t.Fatal("expected error for missing username")
	}
}

func TestSeedUsers_EmptySlice(t *testing.T) {
	if err := SeedUsers(nil, nil); err != nil {
		t.Errorf("SeedUsers(nil, nil) = %v, want nil", err)
	}
}

func TestSeedCandidates_Upserts(t *testing.T) {
	gdb := openMemory(t)
	c := []models.Candidate{{ID: "c1", Name: "Jane Doe"}}
	if err := SeedCandidates(gdb, c); err != nil {
		t.Fatalf("seed: %v", err)
	}
	var got models.Candidate
	if err := gdb.First(&got, "id = ?", "c1").Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Name != "Jane Doe" {
		t.Errorf("Name = %q, want %q", got.Name, "Jane Doe")
	}
}

func TestConnectAdmin_Error(t *testing.T) {
	_, err := ConnectAdmin(config.DatabaseConfig{Driver: "mysql", Host: "127.0.0.1", Port: 1, User: "root"})
	if err == nil {
		t.Fatal("expected error connecting to invalid port")
	}
	if !strings.Contains(err.Error(), "db: admin connect to") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "db: admin connect to")
	}
}
