package storage

import (
	"context"
	"errors"

	"github.com/camuig/riskbot/internal/keystore"
)

// KeystoreWallets exposes stored wallets to the keystore.
func (r *Repository) KeystoreWallets() keystore.WalletSource {
	return keystoreWallets{repo: r}
}

type keystoreWallets struct {
	repo *Repository
}

func (k keystoreWallets) GetWallet(ctx context.Context, id uint) (*keystore.Wallet, error) {
	w, err := k.repo.GetWallet(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &keystore.Wallet{
		ID:           w.ID,
		Venue:        w.Venue,
		Address:      w.Address,
		EncryptedKey: w.EncryptedKey,
	}, nil
}
