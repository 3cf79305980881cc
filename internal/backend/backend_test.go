package backend_test

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/seantiz/kernelforge/internal/backend"
)

func TestEnvOverrides(t *testing.T) {
	tests := []struct {
		name string
		in   map[string]string
		want []backend.EnvVar
	}{
		{
			name: "empty input",
			in:   map[string]string{},
			want: nil,
		},
		{
			name: "single env var",
			in:   map[string]string{"K": "V"},
			want: []backend.EnvVar{{Name: "K", Value: "V", Type: backend.EnvTypePlaintext}},
		},
		{
			name: "sorted by name",
			in:   map[string]string{"ZED": "1", "ALPHA": "2"},
			want: []backend.EnvVar{
				{Name: "ALPHA", Value: "2", Type: backend.EnvTypePlaintext},
				{Name: "ZED", Value: "1", Type: backend.EnvTypePlaintext},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := backend.EnvOverrides(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("EnvOverrides() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDomainUpdateDecodesPlatformKeys(t *testing.T) {
	raw := `{
		"DomainId": "d-123",
		"DefaultUserSettings": {
			"KernelGatewayAppSettings": {
				"CustomImages": [
					{"ImageName": "py310", "AppImageConfigName": "py310-config"}
				]
			}
		}
	}`

	var u backend.DomainUpdate
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if u.DomainID != "d-123" {
		t.Errorf("DomainID = %q", u.DomainID)
	}
	kgw := u.DefaultUserSettings.KernelGatewayAppSettings
	if kgw == nil || len(kgw.CustomImages) != 1 {
		t.Fatalf("custom images = %#v", kgw)
	}
	img := kgw.CustomImages[0]
	if img.ImageName != "py310" || img.AppImageConfigName != "py310-config" || img.ImageVersionNumber != nil {
		t.Errorf("custom image = %#v", img)
	}
}

func TestBuildPayloadKeys(t *testing.T) {
	data, err := json.Marshal(backend.Build{ID: "b1", Status: backend.BuildSucceeded})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if m["id"] != "b1" || m["status"] != "SUCCEEDED" {
		t.Errorf("payload = %v", m)
	}
}
