package session

import (
	"fmt"

	"github.com/cjeanneret/eosctl/internal/hw/device"
	"github.com/cjeanneret/eosctl/internal/logic/normalize"
)

// operation names a mode-gated capability.
type operation int

const (
	opTriggerAF operation = iota
	opAFLocation
	opISO
	opImageFormat
	opExposureMode
	opStill
	opBurst
	opPreview
	opPreviewVideo
	opRecord
)

var (
	photoOnly = map[operation]string{
		opTriggerAF:    "manually trigger auto focus",
		opAFLocation:   "manually set auto focus location",
		opISO:          "manually set ISO",
		opImageFormat:  "change the target image format",
		opExposureMode: "change the exposure mode",
		opStill:        "capture static images",
		opBurst:        "capture burst",
		opPreview:      "capture a preview",
		opPreviewVideo: "capture preview videos",
	}
	videoOnly = map[operation]string{
		opRecord: "record full-res videos",
	}
)

// profile carries everything that differs between the two positions of the
// mode switch. The session never branches on the mode itself.
type profile interface {
	mode() device.Mode
	allows(op operation) bool
	apertures() *normalize.Table
	shutters() *normalize.Table
	// isos is nil when ISO cannot be set remotely.
	isos() *normalize.Table
	continuousAFWidget() string
}

func newProfile(mode device.Mode, tree *device.Widget) profile {
	if mode == device.Video {
		return videoProfile{}
	}
	var choices []string
	if w, ok := tree.Find(normalize.ISO.Widget()); ok {
		choices = w.Choices
	}
	return photoProfile{iso: normalize.ISOTable(choices)}
}

// refusal is the report for op in a mode that does not support it.
func refusal(p profile, op operation) string {
	if what, ok := photoOnly[op]; ok {
		return fmt.Sprintf("Camera must be in %s mode to %s", device.Photo, what)
	}
	if what, ok := videoOnly[op]; ok {
		return fmt.Sprintf("Camera must be in %s mode to %s", device.Video, what)
	}
	return fmt.Sprintf("operation not supported in %s mode", p.mode())
}

type photoProfile struct {
	iso *normalize.Table
}

func (photoProfile) mode() device.Mode { return device.Photo }

func (photoProfile) allows(op operation) bool {
	_, ok := videoOnly[op]
	return !ok
}

func (photoProfile) apertures() *normalize.Table { return normalize.ApertureTable(device.Photo) }
func (photoProfile) shutters() *normalize.Table { return normalize.ShutterTable(device.Photo) }
func (p photoProfile) isos() *normalize.Table { return p.iso }
func (photoProfile) continuousAFWidget() string { return "continuousaf" }

type videoProfile struct{}

func (videoProfile) mode() device.Mode { return device.Video }

func (videoProfile) allows(op operation) bool {
	_, ok := photoOnly[op]
	return !ok
}

func (videoProfile) apertures() *normalize.Table { return normalize.ApertureTable(device.Video) }
func (videoProfile) shutters() *normalize.Table { return normalize.ShutterTable(device.Video) }
func (videoProfile) isos() *normalize.Table { return nil }
func (videoProfile) continuousAFWidget() string { return "movieservoaf" }
