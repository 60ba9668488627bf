package uf2

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/shirou/gopsutil/v4/disk"
)

const (
	// Marker file every UF2 bootloader volume carries at its root
	DeploySentinel = "INFO_UF2.TXT"
	// Magic destination meaning "scan mounted volumes for a bootloader"
	DeployAuto = "auto"

	DefaultRetryCount = 40
	DefaultRetryDelay = 500 * time.Millisecond

	copyChunkSize = 64 * 1024
)

// No sentinel-marked volume was mounted during one resolve pass. Recoverable:
// the deployer retries, since bootloader drives appear only after the device
// finishes rebooting.
var ErrVolumeNotFound = errors.New("no mounted volume with " + DeploySentinel + " found")

// The retry budget ran out without a single successful copy.
type DeployError struct {
	Attempts int
	LastErr  error
}

func (e *DeployError) Error() string {
	return fmt.Sprintf("deploy failed after %d attempts: %s", e.Attempts, e.LastErr)
}

func (e *DeployError) Unwrap() error {
	return e.LastErr
}

// Called during the copy with (copied, total) byte counts. Within one
// attempt the counts only grow; a fresh attempt starts over at zero.
type ProgressFunc func(copied int64, total int64)

// One deploy operation's configuration. Zero values get the defaults from
// NewDeployer; the unexported fields are seams so tests don't need real
// removable media or half-minute sleeps.
type Deployer struct {
	Path       string // Explicit destination directory, or DeployAuto
	RetryCount int
	RetryDelay time.Duration
	Progress   ProgressFunc

	mounts func() ([]string, error)
	sleep  func(time.Duration)
}

func NewDeployer(path string) *Deployer {
	return &Deployer{
		Path:       path,
		RetryCount: DefaultRetryCount,
		RetryDelay: DefaultRetryDelay,
		mounts:     listMountpoints,
		sleep:      time.Sleep,
	}
}

// Enumerate the roots of everything currently mounted.
func listMountpoints() ([]string, error) {
	partitions, err := disk.Partitions(false)
	if err != nil {
		return nil, err
	}
	mounts := make([]string, 0, len(partitions))
	for _, p := range partitions {
		mounts = append(mounts, p.Mountpoint)
	}
	return mounts, nil
}

// Copy the UF2 artifact onto the target volume, retrying until it works or
// the budget runs out. Every attempt re-resolves the destination, because on
// early attempts the bootloader volume usually isn't mounted yet. Returns
// the full path the file was copied to.
func (d *Deployer) Deploy(uf2Path string) (string, error) {
	if d.RetryCount < 1 {
		d.RetryCount = 1
	}
	if d.mounts == nil {
		d.mounts = listMountpoints
	}
	if d.sleep == nil {
		d.sleep = time.Sleep
	}
	var lastErr error
	for attempt := 1; attempt <= d.RetryCount; attempt++ {
		if attempt > 1 {
			d.sleep(d.RetryDelay)
		}
		dir, err := d.resolve()
		if err != nil {
			lastErr = err
			continue
		}
		dest, err := d.copyTo(dir, uf2Path)
		if err != nil {
			// The volume can unmount mid-copy when the device reboots early;
			// that's just another failed attempt
			log.Printf("Deploy attempt %d/%d failed: %s", attempt, d.RetryCount, err)
			lastErr = err
			continue
		}
		return dest, nil
	}
	return "", &DeployError{Attempts: d.RetryCount, LastErr: lastErr}
}

// Pick the destination directory for one attempt. Explicit paths are taken
// as-is; auto mode scans mounted volumes for the sentinel file.
func (d *Deployer) resolve() (string, error) {
	if d.Path != DeployAuto {
		return d.Path, nil
	}
	mounts, err := d.mounts()
	if err != nil {
		return "", err
	}
	for _, mount := range mounts {
		if _, err := os.Stat(filepath.Join(mount, DeploySentinel)); err == nil {
			return mount, nil
		}
	}
	return "", ErrVolumeNotFound
}

func (d *Deployer) copyTo(dir string, srcPath string) (string, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return "", err
	}
	defer src.Close()
	info, err := src.Stat()
	if err != nil {
		return "", err
	}
	total := info.Size()

	destPath := filepath.Join(dir, filepath.Base(srcPath))
	dest, err := os.Create(destPath)
	if err != nil {
		return "", err
	}
	defer dest.Close()

	if d.Progress != nil {
		d.Progress(0, total)
	}
	var copied int64
	buffer := make([]byte, copyChunkSize)
	for {
		n, err := src.Read(buffer)
		if n > 0 {
			if _, werr := dest.Write(buffer[:n]); werr != nil {
				return "", werr
			}
			copied += int64(n)
			if d.Progress != nil {
				d.Progress(copied, total)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
	}
	// Some bootloaders reboot the moment the last block lands; make sure the
	// bytes actually left the page cache before calling it done
	if err := dest.Sync(); err != nil {
		return "", err
	}
	return destPath, nil
}
