package pdomodel

import (
	"github.com/MaxKiv/glorified-gantry/pkg/can"
	"github.com/MaxKiv/glorified-gantry/pkg/od"
)

// DefaultLayout is the driver's reference custom PDO layout:
//
//	RPDO1 = CONTROL_WORD(16)     + SET_OPERATION_MODE(8)
//	RPDO2 = SET_TARGET_POSITION(32) + PROFILE_VELOCITY(32)
//	RPDO3 = SET_TARGET_VELOCITY(32)
//	RPDO4 = SET_TARGET_TORQUE(16)
//	TPDO1 = STATUS_WORD(16)      + GET_OPERATION_MODE(8)
//	TPDO2 = POSITION_ACTUAL(32)  + VELOCITY_ACTUAL(32)
//	TPDO3 = TORQUE_ACTUAL(16)
//	TPDO4 = empty
//
// All OnChange, 500ms event timer for TPDOs that carry data.
func DefaultLayout() (rpdos, tpdos []Mapping) {
	rpdos = []Mapping{
		{
			Kind:         can.KindRPDO1,
			Number:       1,
			Transmission: OnChange,
			Sources: []Source{
				{Entry: od.ControlWord, BitOffset: 0, BitLength: 16},
				{Entry: od.SetOperationMode, BitOffset: 16, BitLength: 8},
			},
		},
		{
			Kind:         can.KindRPDO2,
			Number:       2,
			Transmission: OnChange,
			Sources: []Source{
				{Entry: od.TargetPosition, BitOffset: 0, BitLength: 32},
				{Entry: od.ProfileVelocity, BitOffset: 32, BitLength: 32},
			},
		},
		{
			Kind:         can.KindRPDO3,
			Number:       3,
			Transmission: OnChange,
			Sources: []Source{
				{Entry: od.TargetVelocity, BitOffset: 0, BitLength: 32},
			},
		},
		{
			Kind:         can.KindRPDO4,
			Number:       4,
			Transmission: OnChange,
			Sources: []Source{
				{Entry: od.TargetTorque, BitOffset: 0, BitLength: 16},
			},
		},
	}

	tpdos = []Mapping{
		{
			Kind:             can.KindTPDO1,
			Number:           1,
			Transmission:     OnChange,
			EventTimerMillis: 500,
			Sources: []Source{
				{Entry: od.StatusWord, BitOffset: 0, BitLength: 16},
				{Entry: od.GetOperationMode, BitOffset: 16, BitLength: 8},
			},
		},
		{
			Kind:             can.KindTPDO2,
			Number:           2,
			Transmission:     OnChange,
			EventTimerMillis: 500,
			Sources: []Source{
				{Entry: od.PositionActualValue, BitOffset: 0, BitLength: 32},
				{Entry: od.VelocityActualValue, BitOffset: 32, BitLength: 32},
			},
		},
		{
			Kind:             can.KindTPDO3,
			Number:           3,
			Transmission:     OnChange,
			EventTimerMillis: 500,
			Sources: []Source{
				{Entry: od.TorqueActualValue, BitOffset: 0, BitLength: 16},
			},
		},
		{
			Kind:         can.KindTPDO4,
			Number:       4,
			Transmission: OnChange,
			Sources:      nil,
		},
	}
	return rpdos, tpdos
}
