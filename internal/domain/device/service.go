package device

import (
	"context"

	"github.com/hrmonitor/hrmonitor/internal/domain/access"
	"github.com/hrmonitor/hrmonitor/internal/platform/apperr"
	"github.com/hrmonitor/hrmonitor/internal/platform/auth"
)

type Service struct {
	devices  DeviceRepository
	patients access.Patients
	resolver *access.Resolver
}

func NewService(devices DeviceRepository, patients access.Patients, resolver *access.Resolver) *Service {
	return &Service{devices: devices, patients: patients, resolver: resolver}
}

// ListDevices returns the devices visible to the caller. A patient sees only
// its own devices; asking for another patient's yields an empty page.
func (s *Service) ListDevices(ctx context.Context, caller auth.Principal, filter ListFilter, limit, offset int) ([]*Device, int, error) {
	if filter.Status != "" {
		if err := validateStatus(filter.Status); err != nil {
			return nil, 0, err
		}
	}
	scope, err := s.resolver.Resolve(ctx, caller)
	if err != nil {
		return nil, 0, err
	}
	switch scope.Kind() {
	case access.Self:
		own, _ := scope.PatientID()
		if filter.PatientID != nil && *filter.PatientID != own {
			return []*Device{}, 0, nil
		}
		filter.PatientID = &own
	case access.Staff:
	case access.Denied:
		return []*Device{}, 0, nil
	}

	items, total, err := s.devices.List(ctx, filter, limit, offset)
	if err != nil {
		return nil, 0, apperr.Internal("list devices", err)
	}
	return items, total, nil
}

// GetDevice looks a device up by its hardware identifier. Devices outside
// the caller's scope are reported as not found.
func (s *Service) GetDevice(ctx context.Context, caller auth.Principal, deviceID string) (*Device, error) {
	scope, err := s.resolver.Resolve(ctx, caller)
	if err != nil {
		return nil, err
	}
	d, err := s.get(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if !scope.CanRead(d.PatientID) {
		return nil, apperr.NotFound("device", deviceID)
	}
	return d, nil
}

// RegisterDevice binds a new device to a patient. Staff only.
func (s *Service) RegisterDevice(ctx context.Context, caller auth.Principal, d *Device) error {
	scope, err := s.resolver.Resolve(ctx, caller)
	if err != nil {
		return err
	}
	if !scope.IsStaff() {
		return apperr.Denied("only staff can register devices")
	}
	if err := d.Validate(); err != nil {
		return err
	}
	ok, err := s.patients.Exists(ctx, d.PatientID)
	if err != nil {
		return apperr.Internal("check patient", err)
	}
	if !ok {
		return apperr.NotFound("patient", d.PatientID.String())
	}
	if err := s.devices.Create(ctx, d); err != nil {
		if apperr.IsValidation(err) || apperr.IsNotFound(err) {
			return err
		}
		return apperr.Internal("register device", err)
	}
	return nil
}

// UpdateDevice changes a device's status. Staff may update any device, even
// when they also hold a patient profile; a patient only its own.
func (s *Service) UpdateDevice(ctx context.Context, caller auth.Principal, deviceID string, upd DeviceUpdate) (*Device, error) {
	scope, err := s.resolver.Resolve(ctx, caller)
	if err != nil {
		return nil, err
	}
	if scope.Kind() == access.Denied {
		return nil, apperr.Denied("no patient profile or staff role")
	}
	d, err := s.get(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if !scope.IsStaff() && !scope.CanRead(d.PatientID) {
		return nil, apperr.NotFound("device", deviceID)
	}
	if upd.Status == nil {
		return d, nil
	}
	if err := upd.Apply(d); err != nil {
		return nil, err
	}
	if err := s.devices.UpdateStatus(ctx, d); err != nil {
		if apperr.IsNotFound(err) {
			return nil, err
		}
		return nil, apperr.Internal("update device", err)
	}
	return d, nil
}

func (s *Service) get(ctx context.Context, deviceID string) (*Device, error) {
	d, err := s.devices.GetByDeviceID(ctx, deviceID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, err
		}
		return nil, apperr.Internal("get device", err)
	}
	return d, nil
}
