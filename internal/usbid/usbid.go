// Package usbid resolves a USB vendor/product pair to a V4L2 device node.
//
// The default pair is fixed at build time:
//
//	go build -ldflags "-X github.com/Banakin/gst-plugin-bigeye/internal/usbid.DefaultVendor=046d \
//	                   -X github.com/Banakin/gst-plugin-bigeye/internal/usbid.DefaultProduct=0825"
//
// An empty id matches any device, so the zero configuration selects the
// first capture node.
package usbid

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

var (
	// DefaultVendor is the USB vendor id (4 hex digits) selected when none is configured
	DefaultVendor = ""
	// DefaultProduct is the USB product id (4 hex digits) selected when none is configured
	DefaultProduct = ""
)

// SysfsRoot is where video4linux class devices are listed
var SysfsRoot = "/sys/class/video4linux"

// Node is one /dev/videoN entry with its USB identity (if any).
type Node struct {
	Path    string // /dev/videoN
	Name    string // card name from sysfs
	Vendor  string // lower-case hex, empty for non-USB devices
	Product string
	Index   int // V4L2 "index" attribute; 0 is the capture node of a UVC function
}

// Matches reports whether the node carries the requested ids (empty = any)
func (n Node) Matches(vendor, product string) bool {
	if vendor != "" && !strings.EqualFold(n.Vendor, vendor) {
		return false
	}
	if product != "" && !strings.EqualFold(n.Product, product) {
		return false
	}
	return true
}

func (n Node) String() string {
	if n.Vendor == "" {
		return fmt.Sprintf("%s (%s)", n.Path, n.Name)
	}
	return fmt.Sprintf("%s (%s) [%s:%s]", n.Path, n.Name, n.Vendor, n.Product)
}

// List enumerates video4linux nodes ordered by device number.
func List() ([]Node, error) {
	entries, err := os.ReadDir(SysfsRoot)
	if err != nil {
		return nil, fmt.Errorf("usbid: failed to list %s: %w", SysfsRoot, err)
	}

	nodes := make([]Node, 0, len(entries))
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), "video") {
			continue
		}
		dir := filepath.Join(SysfsRoot, e.Name())
		node := Node{
			Path: "/dev/" + e.Name(),
			Name: readAttr(dir, "name"),
		}
		node.Index, _ = strconv.Atoi(readAttr(dir, "index"))

		// "device" is a symlink to the USB interface; the ids live on the
		// usb_device one level up, so resolve before walking to the parent
		if devDir, err := filepath.EvalSymlinks(filepath.Join(dir, "device")); err == nil {
			for _, d := range []string{devDir, filepath.Dir(devDir)} {
				if v := readAttr(d, "idVendor"); v != "" {
					node.Vendor = strings.ToLower(v)
					node.Product = strings.ToLower(readAttr(d, "idProduct"))
					break
				}
			}
		}
		nodes = append(nodes, node)
	}

	sort.Slice(nodes, func(i, j int) bool {
		return deviceNumber(nodes[i].Path) < deviceNumber(nodes[j].Path)
	})
	return nodes, nil
}

// Find returns the first capture node matching vendor/product.
// Metadata nodes (index != 0) are skipped.
func Find(vendor, product string) (Node, error) {
	nodes, err := List()
	if err != nil {
		return Node{}, err
	}
	for _, n := range nodes {
		if n.Index == 0 && n.Matches(vendor, product) {
			return n, nil
		}
	}
	return Node{}, fmt.Errorf("usbid: no video device matching %s:%s", orAny(vendor), orAny(product))
}

func readAttr(dir, name string) string {
	b, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

func deviceNumber(path string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(filepath.Base(path), "video"))
	if err != nil {
		return 1 << 30
	}
	return n
}

func orAny(id string) string {
	if id == "" {
		return "*"
	}
	return id
}
