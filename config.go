package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig is the optional YAML configuration. Command line flags take
// precedence over it.
type FileConfig struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	Upload struct {
		URL       string        `yaml:"url"`
		RecordID  string        `yaml:"record_id"`
		TeacherID string        `yaml:"teacher_id"`
		Timeout   time.Duration `yaml:"timeout"`
	} `yaml:"upload"`
	Camera struct {
		UserDevice        string `yaml:"user_device"`
		EnvironmentDevice string `yaml:"environment_device"`
		Width             int    `yaml:"width"`
		Height            int    `yaml:"height"`
		MirrorUser        *bool  `yaml:"mirror_user"`
	} `yaml:"camera"`
}

func defaultFileConfig() FileConfig {
	var c FileConfig
	c.Server.Addr = "localhost:0"
	c.Upload.Timeout = uploadTimeout
	c.Camera.UserDevice = "/dev/video0"
	c.Camera.EnvironmentDevice = "/dev/video1"
	c.Camera.Width = 640
	c.Camera.Height = 480
	mirror := true
	c.Camera.MirrorUser = &mirror
	return c
}

// LoadConfig reads path over the defaults. An empty path yields the
// defaults.
func LoadConfig(path string) (FileConfig, error) {
	c := defaultFileConfig()
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		return c, fmt.Errorf("invalid camera size %dx%d in %s", c.Camera.Width, c.Camera.Height, path)
	}
	return c, nil
}

func (c FileConfig) CameraConfig() CameraConfig {
	devices := map[Facing]string{}
	if c.Camera.UserDevice != "" {
		devices[FacingUser] = c.Camera.UserDevice
	}
	if c.Camera.EnvironmentDevice != "" {
		devices[FacingEnvironment] = c.Camera.EnvironmentDevice
	}
	return CameraConfig{
		Devices:    devices,
		MirrorUser: c.Camera.MirrorUser != nil && *c.Camera.MirrorUser,
	}
}

func (c FileConfig) Uploader() *Uploader {
	return &Uploader{
		URL:       c.Upload.URL,
		RecordID:  c.Upload.RecordID,
		TeacherID: c.Upload.TeacherID,
		Timeout:   c.Upload.Timeout,
	}
}

// override replaces dst with v when v is set.
func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
