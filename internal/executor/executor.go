// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

// Package executor performs the side-effecting deploy action for an approved
// update. The core only decides that and when this runs; once started, the
// action runs to completion or failure with no cancellation.
package executor

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sapcc/go-bits/logg"

	"github.com/sapcc/portcullis/internal/gate"
)

// Executor runs the deploy action for an approved update. It is invoked at
// most once per approval, on a detached goroutine; its outcome is observed
// through logs only.
type Executor interface {
	Run(approved gate.PendingApproval) error
}

// DockerExecutor deploys an approved update by shelling out to the Docker
// CLI: optional config artifact sync, then image pull, then restart (via
// docker-compose when the app dir has a compose file, plain restart
// otherwise).
type DockerExecutor struct {
	// non-pure functions that can be replaced by deterministic doubles for unit tests
	runCommand func(cmd *exec.Cmd) ([]byte, error)
	lookPath   func(file string) (string, error)
}

// NewDockerExecutor creates a DockerExecutor.
func NewDockerExecutor() *DockerExecutor {
	return &DockerExecutor{
		runCommand: func(cmd *exec.Cmd) ([]byte, error) { return cmd.CombinedOutput() },
		lookPath:   exec.LookPath,
	}
}

// Run implements the Executor interface.
func (e *DockerExecutor) Run(approved gate.PendingApproval) error {
	if approved.AppDir != "" {
		err := e.syncConfigArtifact(approved.Image, approved.AppDir)
		if err != nil {
			return fmt.Errorf("config sync failed, aborting update: %w", err)
		}
	}

	logg.Info("pulling image: %s", approved.Image)
	_, err := e.runCommand(exec.Command("docker", "pull", approved.Image))
	if err != nil {
		return fmt.Errorf("cannot pull %s: %w", approved.Image, err)
	}

	composePath := filepath.Join(approved.AppDir, "docker-compose.yml")
	if approved.AppDir != "" && fileExists(composePath) {
		logg.Info("restarting via docker-compose in %s", approved.AppDir)
		cmd := exec.Command("docker", "compose", "up", "-d", "--remove-orphans")
		cmd.Dir = approved.AppDir
		_, err = e.runCommand(cmd)
	} else {
		logg.Info("restarting container: %s", approved.Container)
		_, err = e.runCommand(exec.Command("docker", "restart", approved.Container))
	}
	if err != nil {
		return fmt.Errorf("cannot restart %s: %w", approved.Container, err)
	}

	logg.Info("successfully updated %s", approved.Container)
	return nil
}

// syncConfigArtifact pulls the config artifact published next to the image
// (at the tag "config") and unpacks it into the app dir. Absence of the oras
// CLI or of the artifact itself is not a failure; there is simply no config
// to sync for this image.
func (e *DockerExecutor) syncConfigArtifact(image, appDir string) error {
	configRef := trimTag(image) + ":config"

	_, err := e.lookPath("oras")
	if err != nil {
		logg.Info("oras not installed, skipping config sync")
		return nil
	}
	logg.Info("checking for config artifact: %s", configRef)

	tmpDir, err := os.MkdirTemp("", "portcullis-config-sync")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmpDir)

	output, err := e.runCommand(exec.Command("oras", "pull", configRef, "-o", tmpDir))
	if err != nil {
		outputStr := strings.ToLower(string(output))
		if strings.Contains(outputStr, "not found") || strings.Contains(outputStr, "manifest unknown") {
			logg.Info("no config artifact found for %s, skipping", image)
			return nil
		}
		return fmt.Errorf("cannot pull config artifact: %w", err)
	}

	tarball := filepath.Join(tmpDir, "config.tar.gz")
	if !fileExists(tarball) {
		matches, _ := filepath.Glob(filepath.Join(tmpDir, "*.gz"))
		if len(matches) == 0 {
			logg.Info("no config tarball found in artifact for %s, skipping", image)
			return nil
		}
		tarball = matches[0]
	}

	logg.Info("extracting config to %s", appDir)
	err = os.MkdirAll(appDir, 0777)
	if err != nil {
		return err
	}
	_, err = e.runCommand(exec.Command("tar", "xzf", tarball, "-C", appDir))
	if err != nil {
		return fmt.Errorf("cannot extract config artifact: %w", err)
	}
	return nil
}

func trimTag(image string) string {
	idx := strings.LastIndex(image, ":")
	// a colon before the last slash belongs to a host:port, not to a tag
	if idx > strings.LastIndex(image, "/") {
		return image[:idx]
	}
	return image
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
