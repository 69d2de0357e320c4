package miio

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lopelex/roborock-bridge/pkg/device"
)

// Vacuum methods.
const (
	MethodGetStatus     = "get_status"
	MethodStart         = "app_start"
	MethodStop          = "app_stop"
	MethodPause         = "app_pause"
	MethodCharge        = "app_charge"
	MethodSpot          = "app_spot"
	MethodFind          = "find_me"
	MethodSetFanPower   = "set_custom_mode"
	MethodGetConsumable = "get_consumable"
)

// Methods lists the vacuum methods known to this package.
var Methods = []string{
	MethodGetStatus,
	MethodStart,
	MethodStop,
	MethodPause,
	MethodCharge,
	MethodSpot,
	MethodFind,
	MethodSetFanPower,
	MethodGetConsumable,
}

// ErrNoStatus is returned when a status answer holds no record.
var ErrNoStatus = errors.New("status answer holds no record")

// State keys of the canonical vacuum state.
const (
	KeyState        = "state"
	KeyStateCode    = "stateCode"
	KeyBatteryLevel = "batteryLevel"
	KeyCharging     = "charging"
	KeyCleaning     = "cleaning"
	KeyFanSpeed     = "fanSpeed"
	KeyCleanTime    = "cleanTime"
	KeyCleanArea    = "cleanArea"
	KeyError        = "error"
	KeyDND          = "dndEnabled"
)

var stateNames = map[int]string{
	1:   "initiating",
	2:   "charger-offline",
	3:   "waiting",
	5:   "cleaning",
	6:   "returning",
	7:   "manual-control",
	8:   "charging",
	9:   "charging-error",
	10:  "paused",
	11:  "spot-cleaning",
	12:  "error",
	13:  "shutting-down",
	14:  "updating",
	15:  "docking",
	16:  "going-to-target",
	17:  "zone-cleaning",
	18:  "room-cleaning",
	100: "full",
}

var errorMessages = map[int]string{
	1:  "Laser distance sensor error",
	2:  "Collision sensor error",
	3:  "Wheels on top of void, move robot",
	4:  "Clean hovering sensors, move robot",
	5:  "Clean main brush",
	6:  "Clean side brush",
	7:  "Main wheel stuck?",
	8:  "Device stuck, clean area",
	9:  "Dust collector missing",
	10: "Clean filter",
	11: "Stuck in magnetic barrier",
	12: "Low battery",
	13: "Charging fault",
	14: "Battery fault",
	15: "Wall sensors dirty, wipe them",
	16: "Place me on flat surface",
	17: "Side brushes problem, reboot me",
	18: "Suction fan problem",
	19: "Unpowered charging station",
	21: "Laser distance sensor blocked",
	22: "Clean the dock charging contacts",
	23: "Docking station not reachable",
}

// StateName returns the name of a vacuum state code.
func StateName(code int) string {
	if name, ok := stateNames[code]; ok {
		return name
	}
	return fmt.Sprintf("unknown-%d", code)
}

// VacuumStatus is one record of a get_status answer.
type VacuumStatus struct {
	MsgVer     int `json:"msg_ver"`
	MsgSeq     int `json:"msg_seq"`
	State      int `json:"state"`
	Battery    int `json:"battery"`
	CleanTime  int `json:"clean_time"`
	CleanArea  int `json:"clean_area"`
	ErrorCode  int `json:"error_code"`
	MapPresent int `json:"map_present"`
	InCleaning int `json:"in_cleaning"`
	FanPower   int `json:"fan_power"`
	DNDEnabled int `json:"dnd_enabled"`
}

// ParseVacuumStatus decodes a get_status result. The record may come bare
// or wrapped in a one-element array.
func ParseVacuumStatus(raw json.RawMessage) (*VacuumStatus, error) {
	var list []VacuumStatus
	if err := json.Unmarshal(raw, &list); err == nil {
		if len(list) == 0 {
			return nil, ErrNoStatus
		}
		return &list[0], nil
	}
	var st VacuumStatus
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &st, nil
}

// Charging reports whether the vacuum sits on the dock and charges.
func (s *VacuumStatus) Charging() bool {
	return s.State == 8 || s.State == 100
}

// Cleaning reports whether a cleaning job runs.
func (s *VacuumStatus) Cleaning() bool {
	switch s.State {
	case 5, 11, 17, 18:
		return true
	}
	return s.InCleaning != 0 && s.State != 10
}

// ToState maps the record onto the canonical state. Volatile fields such as
// msg_seq are not part of it.
func (s *VacuumStatus) ToState() device.State {
	st := device.State{
		KeyState:        StateName(s.State),
		KeyStateCode:    s.State,
		KeyBatteryLevel: s.Battery,
		KeyCharging:     s.Charging(),
		KeyCleaning:     s.Cleaning(),
		KeyFanSpeed:     s.FanPower,
		KeyCleanTime:    s.CleanTime,
		KeyCleanArea:    float64(s.CleanArea) / 1e6,
		KeyDND:          s.DNDEnabled != 0,
		KeyError:        nil,
	}
	if s.ErrorCode != 0 {
		msg, ok := errorMessages[s.ErrorCode]
		if !ok {
			msg = fmt.Sprintf("Unknown error %d", s.ErrorCode)
		}
		st[KeyError] = map[string]any{"code": s.ErrorCode, "message": msg}
	}
	return st
}
