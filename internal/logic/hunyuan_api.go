package logic

import (
	"context"
	"errors"
	"log/slog"

	"agrodetect-backend/internal/common"

	tccommon "github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common/profile"
	v20230901 "github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/hunyuan/v20230901"
)

type hunyuanClient interface {
	ChatCompletionsWithContext(ctx context.Context, request *v20230901.ChatCompletionsRequest) (*v20230901.ChatCompletionsResponse, error)
}

// HunyuanExpert 使用腾讯云官方Go SDK的聊天实现
type HunyuanExpert struct {
	client hunyuanClient
	model  string
}

func NewHunyuanExpert(cfg *common.Config) (*HunyuanExpert, error) {
	credential := tccommon.NewCredential(cfg.TencentSecretID, cfg.TencentSecretKey)
	cpf := profile.NewClientProfile()
	cpf.HttpProfile.Endpoint = cfg.HunyuanEndpoint
	client, err := v20230901.NewClient(credential, "", cpf)
	if err != nil {
		return nil, err
	}
	return &HunyuanExpert{client: client, model: cfg.HunyuanModel}, nil
}

// AskExpert 非流式调用 ChatCompletions
func (h *HunyuanExpert) AskExpert(ctx context.Context, query string) (string, error) {
	req := v20230901.NewChatCompletionsRequest()
	req.Model = tccommon.StringPtr(h.model)
	req.Messages = []*v20230901.Message{
		{Role: tccommon.StringPtr("system"), Content: tccommon.StringPtr(common.ExpertPrompt)},
		{Role: tccommon.StringPtr("user"), Content: tccommon.StringPtr(query)},
	}
	req.Stream = tccommon.BoolPtr(false)

	resp, err := h.client.ChatCompletionsWithContext(ctx, req)
	if err != nil {
		slog.Warn("Hunyuan ChatCompletions failed", "provider", common.ProviderHunyuan, "error", err)
		return "", &ChatError{Err: err}
	}
	if resp == nil || resp.Response == nil || len(resp.Response.Choices) == 0 {
		return "", &ChatError{Err: errors.New("empty response from hunyuan")}
	}
	choice := resp.Response.Choices[0]
	if choice.Message == nil || choice.Message.Content == nil {
		return "", nil
	}
	return *choice.Message.Content, nil
}
