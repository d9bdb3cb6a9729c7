// Copyright (c) AegisRAG Authors.
// Licensed under the MIT License.

/*
包 graphstore 提供图检索通道：内存知识图与基于它的 local / global / hybrid 检索。

知识图包含三类节点：实体（entity）、片段（chunk）、社区（community）。
片段通过 MENTIONS 指向实体，实体通过 MEMBER_OF 归属社区，
实体之间以 RELATED_TO 相连。快照可从 YAML 文件载入。
*/
package graphstore
