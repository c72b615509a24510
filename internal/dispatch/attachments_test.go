package dispatch

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateAttachmentURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"https allowed", "https://files.example.com/report.pdf", false},
		{"http allowed", "http://files.example.com/report.pdf", false},
		{"ftp rejected", "ftp://files.example.com/report.pdf", true},
		{"file rejected", "file:///etc/passwd", true},
		{"no host", "https:///report.pdf", true},
		{"loopback literal", "http://127.0.0.1/secret", true},
		{"loopback v6 literal", "http://[::1]/secret", true},
		{"private 10/8", "http://10.0.0.1/internal", true},
		{"private 192.168/16", "http://192.168.1.1/router", true},
		{"link local", "http://169.254.169.254/latest/meta-data/", true},
		{"unspecified", "http://0.0.0.0/", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAttachmentURL(tt.url)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestIsForbiddenIP(t *testing.T) {
	tests := []struct {
		ip   string
		want bool
	}{
		{"127.0.0.1", true},
		{"::1", true},
		{"10.1.2.3", true},
		{"172.16.0.1", true},
		{"192.168.0.1", true},
		{"169.254.0.1", true},
		{"0.0.0.0", true},
		{"8.8.8.8", false},
		{"93.184.216.34", false},
		{"2606:4700::6810:84e5", false},
	}
	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			assert.Equal(t, tt.want, isForbiddenIP(net.ParseIP(tt.ip)))
		})
	}
}
