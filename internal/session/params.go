package session

import (
	"context"
	"fmt"
	"strconv"

	"github.com/cjeanneret/eosctl/internal/debug"
	"github.com/cjeanneret/eosctl/internal/hw/device"
	"github.com/cjeanneret/eosctl/internal/logic/normalize"
)

// setNormalized parses raw once, maps it onto table and writes the result
// through tree, which must come from the caller's refresh.
// Unparseable input is reported with the current value and writes nothing.
func (s *Session) setNormalized(ctx context.Context, tree *device.Widget, table *normalize.Table, raw string) (Setting, error) {
	param := table.Param()
	w, ok := tree.Find(param.Widget())
	if !ok {
		return rejected("", table.Choices(), "Config %s not found", param.Widget()), nil
	}
	current := table.Classify(w.Value)

	v, err := normalize.Parse(raw)
	if err != nil {
		return rejected(current, table.Choices(), "%s value %q not supported: %v", param, raw, err), nil
	}
	res := table.Resolve(v)
	if res.Substituted {
		debug.Info("%s", res.Message)
	}
	reason, err := s.write(ctx, tree, w.Name, res.Device)
	if err != nil {
		return Setting{}, err
	}
	if reason != "" {
		return rejected(current, table.Choices(), "%s", reason), nil
	}
	return Setting{
		Value:       table.Classify(res.Device),
		Choices:     table.Choices(),
		Substituted: res.Substituted,
		Message:     res.Message,
	}, nil
}

// readNormalized returns the current value (sentinels read as AUTO) and
// the table's choices.
func (s *Session) readNormalized(tree *device.Widget, table *normalize.Table) (Setting, error) {
	w, ok := tree.Find(table.Param().Widget())
	if !ok {
		return rejected("", table.Choices(), "Config %s not found", table.Param().Widget()), nil
	}
	return Setting{Value: table.Classify(w.Value), Choices: table.Choices()}, nil
}

// SetAperture sets the f-number ("5.6", "AUTO"). Values the mode does not
// offer are replaced by the closest one.
func (s *Session) SetAperture(ctx context.Context, value string) (Setting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tree, err := s.refresh()
	if err != nil {
		return Setting{}, err
	}
	return s.setNormalized(ctx, tree, s.prof.apertures(), value)
}

// Aperture returns the current f-number and the mode's choices.
func (s *Session) Aperture() (Setting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tree, err := s.refresh()
	if err != nil {
		return Setting{}, err
	}
	return s.readNormalized(tree, s.prof.apertures())
}

// SetShutterSpeed sets the exposure time ("1/50", "0.5", "25", "AUTO").
func (s *Session) SetShutterSpeed(ctx context.Context, value string) (Setting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tree, err := s.refresh()
	if err != nil {
		return Setting{}, err
	}
	return s.setNormalized(ctx, tree, s.prof.shutters(), value)
}

// ShutterSpeed returns the current exposure time and the mode's choices.
func (s *Session) ShutterSpeed() (Setting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tree, err := s.refresh()
	if err != nil {
		return Setting{}, err
	}
	return s.readNormalized(tree, s.prof.shutters())
}

// SetISO sets the sensitivity ("400", "AUTO"). PHOTO mode only.
func (s *Session) SetISO(ctx context.Context, value string) (Setting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tree, denied, err := s.gate(opISO)
	if err != nil || denied != "" {
		return Setting{Rejected: denied != "", Message: denied}, err
	}
	return s.setNormalized(ctx, tree, s.prof.isos(), value)
}

// ISO returns the current sensitivity and the numeric choices. PHOTO mode only.
func (s *Session) ISO() (Setting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tree, denied, err := s.gate(opISO)
	if err != nil || denied != "" {
		return Setting{Rejected: denied != "", Message: denied}, err
	}
	return s.readNormalized(tree, s.prof.isos())
}

// SetContinuousAF turns continuous autofocus on or off. The value accepts
// On/Off, 1/0 and true/false.
func (s *Session) SetContinuousAF(ctx context.Context, value string) (Setting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tree, err := s.refresh()
	if err != nil {
		return Setting{}, err
	}
	return s.setContinuousAF(ctx, tree, value)
}

func (s *Session) setContinuousAF(ctx context.Context, tree *device.Widget, value string) (Setting, error) {
	name := s.prof.continuousAFWidget()
	w, ok := tree.Find(name)
	if !ok {
		return rejected("", nil, "Config %s not found", name), nil
	}
	on, err := normalize.ParseOnOff(value)
	if err != nil {
		return rejected(w.Value, w.Choices, "%v", err), nil
	}
	literal := "Off"
	if on {
		literal = "On"
	}
	choices := append([]string(nil), w.Choices...)
	reason, err := s.write(ctx, tree, name, literal)
	if err != nil {
		return Setting{}, err
	}
	if reason != "" {
		return rejected(w.Value, choices, "%s", reason), nil
	}
	return Setting{Value: literal, Choices: choices}, nil
}

func (s *Session) continuousAF(tree *device.Widget) (Setting, error) {
	name := s.prof.continuousAFWidget()
	w, ok := tree.Find(name)
	if !ok {
		return rejected("", nil, "Config %s not found", name), nil
	}
	return Setting{Value: w.Value, Choices: append([]string(nil), w.Choices...)}, nil
}

// SetExposureManual selects the Fv exposure mode so that aperture, shutter
// speed and ISO can be set remotely. PHOTO mode only.
func (s *Session) SetExposureManual(ctx context.Context) (Setting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tree, denied, err := s.gate(opExposureMode)
	if err != nil || denied != "" {
		return Setting{Rejected: denied != "", Message: denied}, err
	}
	reason, err := s.write(ctx, tree, "autoexposuremodedial", exposureFv)
	if err != nil {
		return Setting{}, err
	}
	if reason != "" {
		return rejected("", nil, "%s", reason), nil
	}
	return Setting{Value: exposureFv}, nil
}

// SetImageFormat selects the target image format, either by its full label
// or by its index in the choices. PHOTO mode only.
func (s *Session) SetImageFormat(ctx context.Context, value string) (Setting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tree, denied, err := s.gate(opImageFormat)
	if err != nil || denied != "" {
		return Setting{Rejected: denied != "", Message: denied}, err
	}
	w, ok := tree.Find("imageformat")
	if !ok {
		return rejected("", nil, "Config imageformat not found"), nil
	}
	choices := append([]string(nil), w.Choices...)
	literal := ""
	for _, c := range choices {
		if c == value {
			literal = c
		}
	}
	if literal == "" {
		if i, err := strconv.Atoi(value); err == nil && i >= 0 && i < len(choices) {
			literal = choices[i]
		}
	}
	if literal == "" {
		return rejected(w.Value, choices, "Format %s not supported, please input choice either as full string or by index", value), nil
	}
	reason, err := s.write(ctx, tree, w.Name, literal)
	if err != nil {
		return Setting{}, err
	}
	if reason != "" {
		return rejected(w.Value, choices, "%s", reason), nil
	}
	return Setting{Value: literal, Choices: choices}, nil
}

// ImageFormats returns the current image format and its choices. PHOTO mode only.
func (s *Session) ImageFormats() (Setting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tree, denied, err := s.gate(opImageFormat)
	if err != nil || denied != "" {
		return Setting{Rejected: denied != "", Message: denied}, err
	}
	w, ok := tree.Find("imageformat")
	if !ok {
		return rejected("", nil, "Config imageformat not found"), nil
	}
	return Setting{Value: w.Value, Choices: append([]string(nil), w.Choices...), Message: "Select format by full string or index"}, nil
}

// TriggerAF runs the autofocus once. The body does not report whether focus
// was achieved; call it again to refine. PHOTO mode only.
func (s *Session) TriggerAF(ctx context.Context) (Setting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, denied, err := s.gate(opTriggerAF)
	if err != nil || denied != "" {
		return Setting{Rejected: denied != "", Message: denied}, err
	}
	if err := s.orch.Autofocus(ctx); err != nil {
		return Setting{}, err
	}
	return Setting{Message: "AF triggered once"}, nil
}

// AF point bounds, the full sensor resolution.
const (
	afMaxX = 8192
	afMaxY = 5464
)

// SetAFLocation moves the autofocus point to pixel (x, y). PHOTO mode only.
func (s *Session) SetAFLocation(ctx context.Context, x, y int) (Setting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tree, denied, err := s.gate(opAFLocation)
	if err != nil || denied != "" {
		return Setting{Rejected: denied != "", Message: denied}, err
	}
	w, ok := tree.Find("eoszoomposition")
	if !ok {
		return rejected("", nil, "Config eoszoomposition not found"), nil
	}
	if x < 0 || x > afMaxX || y < 0 || y > afMaxY {
		return rejected(w.Value, nil, "AF point %d,%d not supported, x must be within 0-%d and y within 0-%d", x, y, afMaxX, afMaxY), nil
	}
	point := fmt.Sprintf("%d,%d", x, y)
	reason, err := s.write(ctx, tree, w.Name, point)
	if err != nil {
		return Setting{}, err
	}
	if reason != "" {
		return rejected(w.Value, nil, "%s", reason), nil
	}
	return Setting{Value: point}, nil
}

// CaptureParameters holds optional exposure changes; empty fields are left
// untouched.
type CaptureParameters struct {
	Aperture     string
	ShutterSpeed string
	ISO          string
	ContinuousAF string
}

// Parameters reports each exposure parameter separately.
type Parameters struct {
	Aperture     Setting
	ShutterSpeed Setting
	ISO          Setting
	ContinuousAF Setting
}

// SetCaptureParameters applies every non-empty field in turn. A field the
// mode cannot take (ISO in VIDEO) is reported in its Setting; the others are
// still applied.
func (s *Session) SetCaptureParameters(ctx context.Context, p CaptureParameters) (Parameters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out Parameters
	tree, err := s.refresh()
	if err != nil {
		return out, err
	}
	// Each write goes through a tree read after the previous write.
	wrote := false
	next := func() (*device.Widget, error) {
		if wrote {
			return s.refresh()
		}
		wrote = true
		return tree, nil
	}
	if p.Aperture != "" {
		if tree, err = next(); err != nil {
			return out, err
		}
		if out.Aperture, err = s.setNormalized(ctx, tree, s.prof.apertures(), p.Aperture); err != nil {
			return out, err
		}
	}
	if p.ShutterSpeed != "" {
		if tree, err = next(); err != nil {
			return out, err
		}
		if out.ShutterSpeed, err = s.setNormalized(ctx, tree, s.prof.shutters(), p.ShutterSpeed); err != nil {
			return out, err
		}
	}
	if p.ISO != "" {
		if !s.prof.allows(opISO) {
			out.ISO = rejected("", nil, "%s", refusal(s.prof, opISO))
		} else {
			if tree, err = next(); err != nil {
				return out, err
			}
			if out.ISO, err = s.setNormalized(ctx, tree, s.prof.isos(), p.ISO); err != nil {
				return out, err
			}
		}
	}
	if p.ContinuousAF != "" {
		if tree, err = next(); err != nil {
			return out, err
		}
		if out.ContinuousAF, err = s.setContinuousAF(ctx, tree, p.ContinuousAF); err != nil {
			return out, err
		}
	}
	return out, nil
}

// GetCaptureParameters reads all exposure parameters. ISO is reported as
// rejected in VIDEO mode.
func (s *Session) GetCaptureParameters() (Parameters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out Parameters
	tree, err := s.refresh()
	if err != nil {
		return out, err
	}
	if out.Aperture, err = s.readNormalized(tree, s.prof.apertures()); err != nil {
		return out, err
	}
	if out.ShutterSpeed, err = s.readNormalized(tree, s.prof.shutters()); err != nil {
		return out, err
	}
	if s.prof.allows(opISO) {
		if out.ISO, err = s.readNormalized(tree, s.prof.isos()); err != nil {
			return out, err
		}
	} else {
		out.ISO = Setting{Rejected: true, Message: refusal(s.prof, opISO)}
	}
	if out.ContinuousAF, err = s.continuousAF(tree); err != nil {
		return out, err
	}
	return out, nil
}
