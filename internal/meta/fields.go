package meta

import "go.uber.org/zap"

func zapTable(id string) zap.Field  { return zap.String("table_id", id) }
func zapPath(path string) zap.Field { return zap.String("table_path", path) }
func zapName(name string) zap.Field { return zap.String("table_name", name) }
func zapDesc(desc string) zap.Field { return zap.String("partition_desc", desc) }
