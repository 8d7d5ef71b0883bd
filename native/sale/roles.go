package sale

import "errors"

var (
	ErrNotOwner      = errors.New("sale: caller is not the owner")
	ErrNotGovernance = errors.New("sale: caller is not governance")
	ErrNotOperator   = errors.New("sale: caller is not owner or governance")
)

// requireOwner admits only the sale creator.
func (s *Sale) requireOwner(caller [20]byte) error {
	if caller != s.Config.Owner {
		return ErrNotOwner
	}
	return nil
}

// requireGovernance admits only the platform governance identity.
func (s *Sale) requireGovernance(caller [20]byte) error {
	if caller != s.Config.Governance {
		return ErrNotGovernance
	}
	return nil
}

// requireOperator admits either the owner or governance, whichever is more
// convenient per call site.
func (s *Sale) requireOperator(caller [20]byte) error {
	if caller != s.Config.Owner && caller != s.Config.Governance {
		return ErrNotOperator
	}
	return nil
}
