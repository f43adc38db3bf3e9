package cache

import (
	"testing"
	"time"

	"integrity-scm/internal/config"
	"integrity-scm/internal/integrity"
)

func project(name string) *integrity.Project {
	return &integrity.Project{
		Name:       name,
		Type:       integrity.ProjectTypeNormal,
		ConfigPath: "#/" + name,
	}
}

func TestProjectCache_GetPut(t *testing.T) {
	c := NewProjectCache(10, 0)

	if _, ok := c.Get("app", ""); ok {
		t.Fatal("Get() on empty cache should miss")
	}

	c.Put("app", "", project("app"))
	c.Put("app", "release", project("app-release"))

	got, ok := c.Get("app", "")
	if !ok || got.ConfigPath != "#/app" {
		t.Errorf("Get(app) = %+v, %v", got, ok)
	}
	got, ok = c.Get("app", "release")
	if !ok || got.ConfigPath != "#/app-release" {
		t.Errorf("Get(app, release) = %+v, %v", got, ok)
	}
}

func TestProjectCache_ReturnsCopies(t *testing.T) {
	c := NewProjectCache(10, 0)
	p := project("app")
	c.Put("app", "", p)

	p.ConfigPath = "#/changed"
	got, _ := c.Get("app", "")
	if got.ConfigPath != "#/app" {
		t.Errorf("cached project changed with the caller's copy: %s", got.ConfigPath)
	}

	got.Name = "mutated"
	again, _ := c.Get("app", "")
	if again.Name != "app" {
		t.Errorf("cached project changed through a returned copy: %s", again.Name)
	}
}

func TestProjectCache_Invalidate(t *testing.T) {
	c := NewProjectCache(10, 0)
	c.Put("app", "", project("app"))
	c.Put("app", "release", project("app"))
	c.Put("app-2", "", project("app-2"))

	c.Invalidate("app")

	if _, ok := c.Get("app", ""); ok {
		t.Error("Invalidate() kept app")
	}
	if _, ok := c.Get("app", "release"); ok {
		t.Error("Invalidate() kept app/release")
	}
	if _, ok := c.Get("app-2", ""); !ok {
		t.Error("Invalidate() dropped another job")
	}
}

func TestProjectCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewProjectCache(2, 0)
	c.Put("a", "", project("a"))
	c.Put("b", "", project("b"))
	c.Get("a", "")
	c.Put("c", "", project("c"))

	if _, ok := c.Get("b", ""); ok {
		t.Error("least recently used entry was not evicted")
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
}

func TestProjectCache_TTL(t *testing.T) {
	c := NewProjectCache(10, 10*time.Millisecond)
	c.Put("app", "", project("app"))
	time.Sleep(30 * time.Millisecond)

	if _, ok := c.Get("app", ""); ok {
		t.Error("expired entry was returned")
	}
}

func TestNewProjectCacheFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.CacheConfig
		wantNop bool
		wantErr bool
	}{
		{"lru cache", config.CacheConfig{Capacity: 8}, false, false},
		{"lru cache with ttl", config.CacheConfig{Capacity: 8, TTL: "1h"}, false, false},
		{"disabled", config.CacheConfig{Capacity: 0}, true, false},
		{"negative capacity", config.CacheConfig{Capacity: -1}, false, true},
		{"bad ttl", config.CacheConfig{Capacity: 8, TTL: "soon"}, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewProjectCacheFromConfig(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewProjectCacheFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			_, isNop := got.(integrity.NopProjectCache)
			if isNop != tt.wantNop {
				t.Errorf("NopProjectCache = %v, want %v", isNop, tt.wantNop)
			}
		})
	}
}
