package postgres

import "math/big"

// Big integers (wei amounts, nonces) are stored as NUMERIC(78,0) and travel
// through the driver as decimal strings.

func bigArg(v *big.Int) any {
	if v == nil {
		return nil
	}
	return v.String()
}

func bigVal(s *string) *big.Int {
	if s == nil {
		return nil
	}
	v, ok := new(big.Int).SetString(*s, 10)
	if !ok {
		return nil
	}
	return v
}
