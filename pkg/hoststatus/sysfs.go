/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package hoststatus

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	defaultSysfsRoot = "/sys"
	powerSupplyDir   = "class/power_supply"
	backlightDir     = "class/backlight"
)

var (
	// ErrNoBattery is returned when the host exposes no battery power supply.
	ErrNoBattery = errors.New("no battery present")
	// ErrNoBacklight is returned when the host exposes no backlight device.
	ErrNoBacklight = errors.New("no backlight present")
)

// Battery is the state of the first battery power supply.
type Battery struct {
	Name       string `json:"name"`
	Level      int    `json:"level"`
	Status     string `json:"status"`
	IsCharging bool   `json:"is_charging"`
	Health     string `json:"health,omitempty"`
	Technology string `json:"technology,omitempty"`
	ACOnline   bool   `json:"ac_online"`
}

// Backlight is the state of the first backlight device.
type Backlight struct {
	Name          string `json:"name"`
	Brightness    int    `json:"brightness"`
	MaxBrightness int    `json:"max_brightness"`
	Percent       int    `json:"percent"`
	PoweredOn     bool   `json:"powered_on"`
	path          string
}

// Sysfs reads power and display state from a sysfs tree.
type Sysfs struct {
	Root string
}

func (s Sysfs) root() string {
	if s.Root == "" {
		return defaultSysfsRoot
	}

	return s.Root
}

// Battery reports the first power supply of type Battery.
func (s Sysfs) Battery() (*Battery, error) {
	supplies, err := os.ReadDir(filepath.Join(s.root(), powerSupplyDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoBattery
		}

		return nil, fmt.Errorf("read power supplies: %w", err)
	}

	var (
		bat      *Battery
		acOnline bool
	)

	for _, e := range supplies {
		dir := filepath.Join(s.root(), powerSupplyDir, e.Name())

		switch readString(dir, "type") {
		case "Mains", "USB":
			if readInt(dir, "online", 0) == 1 {
				acOnline = true
			}
		case "Battery":
			if bat != nil {
				continue
			}

			status := readString(dir, "status")
			bat = &Battery{
				Name:       e.Name(),
				Level:      readInt(dir, "capacity", -1),
				Status:     status,
				IsCharging: status == "Charging" || status == "Full",
				Health:     readString(dir, "health"),
				Technology: readString(dir, "technology"),
			}
		}
	}

	if bat == nil {
		return nil, ErrNoBattery
	}

	bat.ACOnline = acOnline
	if acOnline && bat.Status != "Discharging" {
		bat.IsCharging = true
	}

	return bat, nil
}

// Backlight reports the first backlight device.
func (s Sysfs) Backlight() (*Backlight, error) {
	devices, err := os.ReadDir(filepath.Join(s.root(), backlightDir))
	if err != nil || len(devices) == 0 {
		return nil, ErrNoBacklight
	}

	dir := filepath.Join(s.root(), backlightDir, devices[0].Name())

	bl := &Backlight{
		Name:          devices[0].Name(),
		Brightness:    readInt(dir, "brightness", 0),
		MaxBrightness: readInt(dir, "max_brightness", 0),
		path:          dir,
	}

	// bl_power uses FB_BLANK values; 0 is unblanked
	bl.PoweredOn = readInt(dir, "bl_power", 0) == 0 && bl.Brightness > 0

	if bl.MaxBrightness > 0 {
		bl.Percent = bl.Brightness * 100 / bl.MaxBrightness
	}

	return bl, nil
}

// SetBrightness writes percent (0-100) of max brightness to the first backlight.
func (s Sysfs) SetBrightness(percent int) (*Backlight, error) {
	bl, err := s.Backlight()
	if err != nil {
		return nil, err
	}

	if bl.MaxBrightness <= 0 {
		return nil, fmt.Errorf("%w: %s reports no max_brightness", ErrNoBacklight, bl.Name)
	}

	value := bl.MaxBrightness * percent / 100

	if err := os.WriteFile(filepath.Join(bl.path, "brightness"), []byte(strconv.Itoa(value)), 0o644); err != nil {
		return nil, fmt.Errorf("write brightness: %w", err)
	}

	bl.Brightness = value
	bl.Percent = percent

	return bl, nil
}

func readString(dir, name string) string {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return ""
	}

	return strings.TrimSpace(string(data))
}

func readInt(dir, name string, def int) int {
	raw := readString(dir, name)
	if raw == "" {
		return def
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}

	return v
}
