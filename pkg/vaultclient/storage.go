package vaultclient

import (
	"context"

	"coordinatorcore/internal/coordinatorerr"

	gstypes "github.com/centrifuge/go-substrate-rpc-client/v4/types"
)

// queryStorage builds a storage key for module.method (optionally keyed by
// args, SCALE-encoded in order) and decodes the result into out.
func (c *Client) queryStorage(ctx context.Context, module, method string, out interface{}, args ...interface{}) error {
	c.mu.Lock()
	api := c.api
	c.mu.Unlock()
	if api == nil {
		return coordinatorerr.New(coordinatorerr.KindTransientRemote, "vault client not connected")
	}

	meta, err := api.RPC.State.GetMetadataLatest()
	if err != nil {
		return coordinatorerr.Wrap(coordinatorerr.KindTransientRemote, "failed to fetch chain metadata", err)
	}

	encodedArgs := make([][]byte, 0, len(args))
	for _, a := range args {
		encoded, err := gstypes.EncodeToBytes(a)
		if err != nil {
			return coordinatorerr.Wrap(coordinatorerr.KindValidation, "failed to encode storage key argument", err)
		}
		encodedArgs = append(encodedArgs, encoded)
	}

	key, err := gstypes.CreateStorageKey(meta, module, method, encodedArgs...)
	if err != nil {
		return coordinatorerr.Wrap(coordinatorerr.KindTransientRemote, "failed to build storage key", err)
	}

	ok, err := api.RPC.State.GetStorageLatest(key, out)
	if err != nil {
		return coordinatorerr.Wrap(coordinatorerr.KindTransientRemote, "storage query failed", err)
	}
	if !ok {
		return coordinatorerr.New(coordinatorerr.KindNotFound, "storage entry absent")
	}
	return nil
}
