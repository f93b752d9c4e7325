package goMFA

import (
	"fmt"

	"github.com/MrEthical07/goMFA/assertion"
	"go.uber.org/zap"
)

// verified builds the success result, attaching a step-up token when
// assertions are enabled. A signing failure does not undo the verification;
// the result is returned without a token and the failure is logged.
func (e *Engine) verified(factor Factor, userID string, remainingCodes int) (*VerifyResult, error) {
	out := &VerifyResult{OK: true, Factor: factor, RemainingCodes: remainingCodes}
	if e.signer == nil {
		return out, nil
	}

	token, exp, err := e.signer.Mint(userID, string(factor))
	if err != nil {
		e.logger.Error("assertion mint failed", zap.String("factor", string(factor)), zap.Error(err))
		return out, nil
	}
	out.Assertion = token
	out.AssertionExpiresAt = exp
	return out, nil
}

// ValidateAssertion parses a step-up token minted by this engine and returns
// its claims. Claims.Subject is the user ID; Claims.AMR lists the factors.
func (e *Engine) ValidateAssertion(token string) (*assertion.Claims, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if e.signer == nil {
		return nil, ErrFactorDisabled
	}
	claims, err := e.signer.Parse(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAssertionInvalid, err)
	}
	return claims, nil
}
