package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/lakemeta/lakemeta/pkg/types"
)

// Client is a typed client for the metadata service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) call(ctx context.Context, method string, req, resp interface{}) error {
	in, err := toStruct(req)
	if err != nil {
		return errorf("encode %s request: %v", method, err)
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out); err != nil {
		return err
	}
	if err := fromStruct(out, resp); err != nil {
		return errorf("decode %s response: %v", method, err)
	}
	return nil
}

// CommitData submits a commit proposal.
func (c *Client) CommitData(ctx context.Context, meta types.MetaInfo, changeSchema bool, op types.CommitOp) (bool, error) {
	var out Outcome
	err := c.call(ctx, MethodCommitData, CommitRequest{
		Op:           string(op),
		ChangeSchema: changeSchema,
		Table:        meta.Table,
		Partitions:   meta.Partitions,
	}, &out)
	return out.Committed, err
}

// GetLatestPartition fetches the latest version of a partition.
func (c *Client) GetLatestPartition(ctx context.Context, tableID, partitionDesc string) (*types.PartitionInfo, error) {
	var out types.PartitionInfo
	if err := c.call(ctx, MethodGetLatestPartition, PartitionRequest{TableID: tableID, PartitionDesc: partitionDesc}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetPartitionVersion fetches one version of a partition.
func (c *Client) GetPartitionVersion(ctx context.Context, tableID, partitionDesc string, version int) (*types.PartitionInfo, error) {
	var out types.PartitionInfo
	req := PartitionRequest{TableID: tableID, PartitionDesc: partitionDesc, Version: &version}
	if err := c.call(ctx, MethodGetLatestPartition, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RollbackPartition republishes version as the latest.
func (c *Client) RollbackPartition(ctx context.Context, tableID, partitionDesc string, version int) (bool, error) {
	var out Outcome
	err := c.call(ctx, MethodRollbackPartition, PartitionRequest{TableID: tableID, PartitionDesc: partitionDesc, Version: &version}, &out)
	return out.Committed, err
}

// LogicalDelete deletes a partition, or the whole table when partitionDesc
// is empty.
func (c *Client) LogicalDelete(ctx context.Context, tableID, partitionDesc string) (bool, error) {
	var out Outcome
	err := c.call(ctx, MethodLogicalDelete, PartitionRequest{TableID: tableID, PartitionDesc: partitionDesc}, &out)
	return out.Committed, err
}
