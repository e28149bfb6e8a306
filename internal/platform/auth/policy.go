package auth

import (
	"context"
	"fmt"

	"github.com/medisphere/medisphere/pkg/apperrors"
)

// Operation names a state-changing capability of the ward service.
type Operation string

const (
	OpCreateWard Operation = "ward.create"
	OpAddBed     Operation = "bed.add"
	OpDeleteBed  Operation = "bed.delete"
	OpUpdateBed  Operation = "bed.update"
	OpAdmit      Operation = "admission.admit"
	OpAllocate   Operation = "admission.allocate"
	OpMove       Operation = "admission.move"
	OpRelease    Operation = "admission.release"
)

// Policy maps each operation to the roles allowed to perform it. It is
// consulted exactly once, at the start of the service operation.
type Policy map[Operation][]string

// DefaultPolicy is the hospital's role matrix.
func DefaultPolicy() Policy {
	return Policy{
		OpCreateWard: {RoleAdmin},
		OpAddBed:     {RoleAdmin},
		OpDeleteBed:  {RoleAdmin},
		OpUpdateBed:  {RoleAdmin, RoleStaff},
		OpAdmit:      {RoleAdmin, RoleStaff, RoleReceptionist, RoleDoctor},
		OpAllocate:   {RoleAdmin, RoleReceptionist},
		OpMove:       {RoleAdmin, RoleStaff},
		OpRelease:    {RoleAdmin, RoleReceptionist},
	}
}

// Allows reports whether any of roles may perform op. Unknown operations are
// denied.
func (p Policy) Allows(op Operation, roles []string) bool {
	allowed, ok := p[op]
	if !ok {
		return false
	}
	for _, has := range roles {
		for _, r := range allowed {
			if has == r {
				return true
			}
		}
	}
	return false
}

// Authorize checks the caller identity on ctx against op.
func (p Policy) Authorize(ctx context.Context, op Operation) error {
	if p.Allows(op, RolesFromContext(ctx)) {
		return nil
	}
	return apperrors.Forbidden(fmt.Sprintf("not permitted to perform %s", op))
}
