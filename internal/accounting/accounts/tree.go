package accounts

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCycle indicates a parent chain loops back on itself.
	ErrCycle = errors.New("accounts: parent chain forms a cycle")
	// ErrParentNotGroup indicates a child attached to a postable leaf.
	ErrParentNotGroup = errors.New("accounts: parent must be a group account")
	// ErrCodePrefix indicates a child code that does not extend its parent's code.
	ErrCodePrefix = errors.New("accounts: child code must extend parent code")
	// ErrDuplicateCode indicates two accounts share a code within a company.
	ErrDuplicateCode = errors.New("accounts: duplicate account code")
)

// ValidateTree checks a company's chart: unique codes, acyclic parents,
// group parents, and hierarchical code prefixes.
func ValidateTree(accounts []Account) error {
	byID := make(map[int64]Account, len(accounts))
	codes := make(map[string]int64, len(accounts))
	for _, acc := range accounts {
		if other, ok := codes[acc.Code]; ok && other != acc.ID {
			return fmt.Errorf("%w: %s", ErrDuplicateCode, acc.Code)
		}
		codes[acc.Code] = acc.ID
		byID[acc.ID] = acc
	}
	for _, acc := range accounts {
		if acc.ParentID == nil {
			continue
		}
		parent, ok := byID[*acc.ParentID]
		if !ok {
			return fmt.Errorf("accounts: %s references unknown parent %d", acc.Code, *acc.ParentID)
		}
		if err := checkParent(acc, parent); err != nil {
			return err
		}
		if err := walkAncestors(acc, byID); err != nil {
			return err
		}
	}
	return nil
}

func checkParent(child, parent Account) error {
	if !parent.IsGroup {
		return fmt.Errorf("%w: %s under %s", ErrParentNotGroup, child.Code, parent.Code)
	}
	if !strings.HasPrefix(child.Code, parent.Code) || child.Code == parent.Code {
		return fmt.Errorf("%w: %s under %s", ErrCodePrefix, child.Code, parent.Code)
	}
	return nil
}

func walkAncestors(start Account, byID map[int64]Account) error {
	seen := map[int64]struct{}{start.ID: {}}
	current := start
	for current.ParentID != nil {
		if _, ok := seen[*current.ParentID]; ok {
			return fmt.Errorf("%w at %s", ErrCycle, start.Code)
		}
		seen[*current.ParentID] = struct{}{}
		next, ok := byID[*current.ParentID]
		if !ok {
			return nil
		}
		current = next
	}
	return nil
}
