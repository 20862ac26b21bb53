// Package errs 定义了贯穿各层的错误分类哨兵。
// 各组件通过 fmt.Errorf("...: %w", errs.ErrXxx) 包装底层错误，
// 调用方用 errors.Is 判断错误所属类别并决定恢复策略。
package errs

import "errors"

var (
	// ErrInvalidChunking 表示分块参数非法（overlap >= size 等），属于启动期配置错误。
	ErrInvalidChunking = errors.New("invalid chunking parameters")

	// ErrMissingCredential 表示所选后端缺少必要的凭证或地址，属于启动期配置错误。
	ErrMissingCredential = errors.New("missing backend credential")

	// ErrBackendUnknown 表示配置指定了不存在的后端变体。
	ErrBackendUnknown = errors.New("unknown provider backend")

	// ErrExtraction 表示单篇文章抓取或正文提取失败，按篇跳过即可恢复。
	ErrExtraction = errors.New("article extraction failed")

	// ErrEmbedding 表示向量化调用失败，中止所在的摄取批次或查询请求。
	ErrEmbedding = errors.New("embedding failed")

	// ErrIndex 表示向量索引读写失败，中止所在的摄取批次或查询请求。
	ErrIndex = errors.New("vector index operation failed")

	// ErrGeneration 表示生成调用失败；查询链路会先尝试回退链中的下一个后端。
	ErrGeneration = errors.New("generation failed")
)
